package main

import (
	"io"
	"net/http"

	"github.com/stackbound/llmrelay"
	"github.com/stackbound/llmrelay/payload"
)

// maxAudioPart caps the size of a single multipart part.
const maxAudioPart = 100 << 20

// handleAudio parses an inbound audio multipart form once, caching its
// parts so the form can be rebuilt for every dispatch attempt. The model
// field is lifted out for routing; the rest passes through untouched.
func (s *server) handleAudio(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mr, err := r.MultipartReader()
		if err != nil {
			s.reject(w, r, llmrelay.Errorf(llmrelay.KindInvalidHeader,
				"expected multipart/form-data: %v", err))
			return
		}

		req := &payload.AudioRequest{Endpoint: endpoint}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				s.reject(w, r, llmrelay.Errorf(llmrelay.KindMultipart,
					"reading multipart form: %v", err))
				return
			}
			data, err := io.ReadAll(io.LimitReader(part, maxAudioPart))
			_ = part.Close()
			if err != nil {
				s.reject(w, r, llmrelay.Errorf(llmrelay.KindMultipart,
					"reading multipart part %q: %v", part.FormName(), err))
				return
			}
			cached := payload.MultipartPart{
				Name:        part.FormName(),
				Data:        data,
				FileName:    part.FileName(),
				ContentType: part.Header.Get("Content-Type"),
			}
			if cached.Name == "model" {
				req.Model = string(data)
			}
			req.Parts = append(req.Parts, cached)
		}

		s.dispatch(w, r, payload.NewAudio(req))
	}
}
