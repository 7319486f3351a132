package samlsp

// Option mutates an options holder. Every constructor in the package hands
// its own holder to ApplyOpts, so a single option type covers them all; an
// option simply ignores holders it does not recognize.
type Option func(interface{})

// ApplyOpts applies each option in order to opts. Nil entries are skipped.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil {
			continue
		}
		o(opts)
	}
}
