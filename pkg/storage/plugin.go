package storage

import "context"

// Plugin is a cross-cutting post-upload processor. A fresh instance is
// built for every configured Storage and initialized against its default
// driver.
type Plugin interface {
	Init(ctx context.Context, d Driver) error

	// Hook returns the after-put hook, or nil when the plugin has none.
	Hook() *PutHook
}

// PutHook runs after every successful put. Its return value is stored in
// PutResult.Extra under Key.
type PutHook struct {
	Key      string
	AfterPut func(ctx context.Context, path string) (any, error)
}

// PluginFactory builds a plugin instance.
type PluginFactory func() Plugin

// PutResult is the outcome of a put.
type PutResult struct {
	Success bool
	Message string
	// Name is the base name of the path the caller asked for.
	Name string
	// Path is where the file was stored; it differs from the requested
	// path when unique file names are on.
	Path string
	// Extra holds backend metadata and plugin contributions.
	Extra map[string]any
}

// Get returns an extra field by key.
func (r *PutResult) Get(key string) (any, bool) {
	v, ok := r.Extra[key]
	return v, ok
}

func (r *PutResult) merge(meta Metadata) {
	for k, v := range meta {
		switch k {
		case "success":
			if b, ok := v.(bool); ok {
				r.Success = b
				continue
			}
		case "message":
			if s, ok := v.(string); ok {
				r.Message = s
				continue
			}
		}
		r.Extra[k] = v
	}
}
