package writer

import (
	"net/http"
)

// Writer buffers the origin response: headers, status and every body write.
// Nothing reaches the client until FlushTo is called.
type Writer struct {
	Code      int                 `json:"code"`
	Data      []byte              `json:"data"`
	HdrToSend map[string][]string `json:"headers"`
}

func New() *Writer {
	return &Writer{
		Code:      -1,
		HdrToSend: make(map[string][]string, 10),
	}
}

// WriteHeader records the first status code, later calls are ignored as in net/http.
func (w *Writer) WriteHeader(code int) {
	if w.Code != -1 {
		return
	}
	w.Code = code
}

func (w *Writer) Write(b []byte) (int, error) {
	if w.Code == -1 {
		w.Code = http.StatusOK
	}
	w.Data = append(w.Data, b...)
	return len(b), nil
}

func (w *Writer) Header() http.Header {
	return w.HdrToSend
}

// StatusCode returns the recorded status, 200 when the handler never wrote one.
func (w *Writer) StatusCode() int {
	if w.Code == -1 {
		return http.StatusOK
	}
	return w.Code
}

// FlushTo sends the buffered response to the client.
func (w *Writer) FlushTo(rw http.ResponseWriter) error {
	dst := rw.Header()
	for k := range w.HdrToSend {
		dst[k] = append(dst[k][:0], w.HdrToSend[k]...)
	}

	// write the original status code
	rw.WriteHeader(w.StatusCode())
	if len(w.Data) == 0 {
		return nil
	}

	// write the data
	_, err := rw.Write(w.Data)
	return err
}

// Reset prepares the writer for reuse.
func (w *Writer) Reset() {
	w.Code = -1
	w.Data = w.Data[:0]

	for k := range w.HdrToSend {
		delete(w.HdrToSend, k)
	}
}
