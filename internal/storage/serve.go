package storage

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
)

// Serve streams the referenced file as a download regardless of the backend. A failure
// to open the object is returned before any header is written.
func Serve(w http.ResponseWriter, r *http.Request, b Backend, ref Ref, downloadName string) error {
	obj, err := b.Open(r.Context(), ref)
	if err != nil {
		return err
	}
	defer obj.Body.Close()

	if downloadName == "" {
		downloadName = ref.Name()
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": downloadName}))

	if rs, ok := obj.Body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, downloadName, obj.ModTime, rs)
		return nil
	}
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		return fmt.Errorf("stream object: %w", err)
	}
	return nil
}
