package busrpc

// Group registers consumers under a common dotted prefix and with shared
// consumer options.
type Group struct {
	server *Server
	prefix string
	opts   []ConsumerOption
}

func (s *Server) Group(prefix string, opts ...ConsumerOption) *Group {
	return &Group{server: s, prefix: prefix, opts: opts}
}

func (g *Group) sub(name string) string {
	if g.prefix == "" || name == "" {
		if name == "" {
			return g.prefix
		}
		return name
	}
	return g.prefix + "." + name
}

// Group nests a sub group; options accumulate.
func (g *Group) Group(suffix string, opts ...ConsumerOption) *Group {
	all := append(append([]ConsumerOption{}, g.opts...), opts...)
	return &Group{server: g.server, prefix: g.sub(suffix), opts: all}
}

func (g *Group) Handle(name string, h HandlerFunc, opts ...ConsumerOption) bool {
	all := append(append([]ConsumerOption{}, g.opts...), opts...)
	return g.server.Handle(g.sub(name), h, all...)
}
