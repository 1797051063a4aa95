package push

import (
	"net/http"
	"path/filepath"
	"strings"
)

// StaticHandler serves dashboard assets from a directory resolved at
// startup, refusing any request whose cleaned path escapes that directory.
func StaticHandler(assetDir string) (http.Handler, error) {
	root, err := filepath.Abs(assetDir)
	if err != nil {
		return nil, err
	}
	root = filepath.Clean(root)

	fileServer := http.FileServer(http.Dir(root))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested := filepath.Join(root, filepath.Clean("/"+r.URL.Path))
		if requested != root && !strings.HasPrefix(requested, root+string(filepath.Separator)) {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	}), nil
}
