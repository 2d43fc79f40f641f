package pipeline

// ServerAPI is the read-only service handed to extension functions
type ServerAPI interface {
	// SockWrite pushes a message to connected live-update clients
	SockWrite(msgType string, data any)
}

// serverAPI exposes only SockWrite so extensions cannot reach the rest of
// the build integration
type serverAPI struct {
	build BuildIntegration
}

func (a serverAPI) SockWrite(msgType string, data any) {
	a.build.SockWrite(msgType, data)
}

// Middlewares lets an extension function place handlers around the
// internal stages. It is only valid during the call it was passed to.
type Middlewares interface {
	// InsertBefore appends handlers to the list that runs before every internal stage
	InsertBefore(handlers ...Handler)
	// InsertAfter appends handlers to the list that runs after every internal stage
	InsertAfter(handlers ...Handler)
}

// SetupFunc is a user extension function
type SetupFunc func(m Middlewares, api ServerAPI)

type extensionBuilder struct {
	before []Handler
	after  []Handler
	sealed bool
}

func (b *extensionBuilder) InsertBefore(handlers ...Handler) {
	b.mustBeOpen()
	b.before = append(b.before, handlers...)
}

func (b *extensionBuilder) InsertAfter(handlers ...Handler) {
	b.mustBeOpen()
	b.after = append(b.after, handlers...)
}

func (b *extensionBuilder) mustBeOpen() {
	if b.sealed {
		panic("pipeline: Middlewares used after its setup function returned")
	}
}

// runSetup invokes each function once, in order, and collects what they
// inserted. Each call gets a fresh builder that is sealed on return.
func runSetup(fns []SetupFunc, api ServerAPI) (before, after []Handler) {
	for _, fn := range fns {
		if fn == nil {
			continue
		}
		b := &extensionBuilder{before: before, after: after}
		fn(b, api)
		b.sealed = true
		before, after = b.before, b.after
	}
	return before, after
}
