package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"time"

	schoolauth "github.com/yyupcompany/kyyupgame-sub117"
	"github.com/yyupcompany/kyyupgame-sub117/internal/audit"
)

// MaxCapturedBody bounds how much of a request or response body the audit
// interceptor buffers. Clients always see the full body.
const MaxCapturedBody = 64 << 10

// Audit emits exactly one audit record per request once the handler
// returns, panics included. Mount it before Guard: rejected requests are
// recorded too, and Guard reports the identity it resolves back to Audit.
// Persistence is asynchronous and never changes the response.
func Audit(engine *schoolauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !engine.AuditEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			params := requestParams(r)
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			slot := &identitySlot{}
			r = r.WithContext(context.WithValue(r.Context(), identitySlotKey{}, slot))

			defer func() {
				p := recover()
				if p != nil && !rec.wroteHeader {
					rec.status = http.StatusInternalServerError
				}
				engine.EmitAudit(context.WithoutCancel(r.Context()), buildRecord(r, rec, params, start, slot))
				if p != nil {
					panic(p)
				}
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

// identitySlot carries the identity resolved further down the chain back up
// to Audit, whose request context never sees it.
type identitySlot struct {
	id *schoolauth.Identity
}

type identitySlotKey struct{}

func reportIdentity(ctx context.Context, id *schoolauth.Identity) {
	if slot, ok := ctx.Value(identitySlotKey{}).(*identitySlot); ok {
		slot.id = id
	}
}

func buildRecord(r *http.Request, rec *responseRecorder, params map[string]any, start time.Time, slot *identitySlot) schoolauth.AuditRecord {
	action, description := audit.Describe(r.Method, r.URL.Path)
	module := audit.ModuleFromPath(r.URL.Path)

	out := schoolauth.AuditRecord{
		Module:          module,
		Action:          action,
		OperationType:   audit.OperationFor(r.Method),
		ResourceType:    module,
		ResourceID:      audit.ResourceIDFromPath(r.URL.Path),
		Description:     description,
		RequestMethod:   r.Method,
		RequestURL:      r.URL.Path,
		SanitizedParams: audit.Sanitize(params),
		IP:              ClientIP(r),
		UserAgent:       r.UserAgent(),
		Result:          audit.ResultSuccess,
		StatusCode:      rec.status,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
	if id, ok := Identity(r); ok {
		out.UserID = id.UserID
	} else if slot != nil && slot.id != nil {
		out.UserID = slot.id.UserID
	}
	if rec.status >= http.StatusBadRequest {
		out.Result = audit.ResultFailed
		out.ResultMessage = errorMessage(rec.body.Bytes())
		if out.ResultMessage == "" {
			out.ResultMessage = http.StatusText(rec.status)
		}
	}
	return out
}

// requestParams collects query parameters and, for JSON bodies, the
// top-level object. The body is restored for the handler.
func requestParams(r *http.Request) map[string]any {
	params := make(map[string]any)
	for k, v := range r.URL.Query() {
		if len(v) == 1 {
			params[k] = v[0]
		} else {
			params[k] = v
		}
	}

	if r.Body != nil && r.Body != http.NoBody && isJSON(r.Header.Get("Content-Type")) {
		buf, err := io.ReadAll(io.LimitReader(r.Body, MaxCapturedBody))
		r.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(buf), r.Body), r.Body}
		if err == nil {
			var body map[string]any
			if json.Unmarshal(buf, &body) == nil {
				for k, v := range body {
					params[k] = v
				}
			}
		}
	}

	if len(params) == 0 {
		return nil
	}
	return params
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}

// responseRecorder passes writes through while keeping the status and the
// first MaxCapturedBody bytes of the body.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	if room := MaxCapturedBody - r.body.Len(); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		r.body.Write(p[:room])
	}
	return r.ResponseWriter.Write(p)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
