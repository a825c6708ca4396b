// Package imagestats provides a storage plugin that records the dimensions
// of every image written through a Storage.
//
//	st, err := storage.Open(ctx, storage.Config{
//	    Plugins: []storage.PluginFactory{imagestats.New},
//	})
//	res, _ := st.Put(ctx, "a.png", data)
//	stats := res.Extra[imagestats.Key].(*storage.ImageStats)
package imagestats

import (
	"context"
	"strings"

	"github.com/shashiranjanraj/filestore/pkg/storage"
)

// Key is the PutResult.Extra key the plugin writes.
const Key = "imageStats"

var extensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
}

// Plugin reads back each stored image through the default driver.
type Plugin struct {
	driver storage.Driver
}

// New is a storage.PluginFactory.
func New() storage.Plugin { return &Plugin{} }

func (p *Plugin) Init(_ context.Context, d storage.Driver) error {
	p.driver = d
	return nil
}

func (p *Plugin) Hook() *storage.PutHook {
	return &storage.PutHook{Key: Key, AfterPut: p.afterPut}
}

// afterPut returns nil for paths that are not png, jpeg or gif files.
func (p *Plugin) afterPut(ctx context.Context, path string) (any, error) {
	if !extensions[strings.ToLower(storage.Ext(path))] {
		return nil, nil
	}
	if is, ok := p.driver.(storage.ImageStatter); ok {
		return is.ImageStats(ctx, path, false)
	}

	rc, err := p.driver.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return storage.ReadImageStats(rc, false)
}
