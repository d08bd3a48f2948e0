package usecase

import (
	"fmt"
	"net/http"
	"strconv"
)

// Response is what every streaming route produces; the HTTP layer writes it
// out as-is.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func partialContent(body []byte, start, size int64, mimeType string) Response {
	header := http.Header{}
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%s", start, start+int64(len(body))-1, totalSize(size)))
	header.Set("Content-Length", strconv.Itoa(len(body)))
	if mimeType != "" {
		header.Set("Content-Type", mimeType)
	}
	return Response{Status: http.StatusPartialContent, Header: header, Body: body}
}

func totalSize(size int64) string {
	if size <= 0 {
		return "*"
	}
	return strconv.FormatInt(size, 10)
}
