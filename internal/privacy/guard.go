package privacy

import (
	"bytes"
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/shared/logger"
	"github.com/aed-compliance/platform/internal/shared/types"
)

// ViolationHandler handles detected PII violations.
type ViolationHandler interface {
	HandleViolation(ctx context.Context, violation *PIIViolation) error
}

// ViolationLogger writes violations to the audit log.
type ViolationLogger struct {
	audit AuditLogger
}

// NewViolationLogger creates a new violation logger.
func NewViolationLogger(audit AuditLogger) *ViolationLogger {
	return &ViolationLogger{audit: audit}
}

// HandleViolation logs a PII violation to the audit log.
func (l *ViolationLogger) HandleViolation(ctx context.Context, v *PIIViolation) error {
	return l.audit.Log(ctx, AuditActionPIIRedacted, "pii_violation", v.ID.String(), map[string]any{
		"field":          v.Field,
		"masked_value":   v.MaskedValue,
		"request_path":   v.RequestPath,
		"request_method": v.RequestMethod,
	})
}

// Guard is a last line of defence behind MaskSensitiveFields: it scans JSON
// responses sent to callers without sensitive-data access and redacts any
// unmasked phone number, e-mail or resident registration number.
type Guard struct {
	rrnPattern   *regexp.Regexp
	phonePattern *regexp.Regexp
	emailPattern *regexp.Regexp

	handler        ViolationHandler
	exemptPrefixes []string
}

// NewGuard creates the response guard. handler may be nil.
func NewGuard(handler ViolationHandler, exemptPrefixes ...string) *Guard {
	return &Guard{
		// RRN: YYMMDD-Gxxxxxx, G in 1..4
		rrnPattern: regexp.MustCompile(`\b\d{6}-?[1-4]\d{6}\b`),
		// Korean phone numbers with all digits visible
		phonePattern: regexp.MustCompile(`\b0\d{1,2}-?\d{3,4}-?\d{4}\b`),
		emailPattern: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]{4,}@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),

		handler:        handler,
		exemptPrefixes: exemptPrefixes,
	}
}

// Middleware must run after the principal has been stored in the context.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := access.PrincipalFrom(r.Context())
		if p == nil || p.Scope.CanViewSensitiveData || g.isExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		body := rec.body.Bytes()
		if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
			var violations []PIIViolation
			body, violations = g.redact(body, r, p.UserID)
			if len(violations) > 0 {
				g.report(r.Context(), violations)
				w.Header().Set("X-PII-Redacted", "true")
			}
		}

		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(rec.statusCode)
		w.Write(body)
	})
}

func (g *Guard) redact(body []byte, r *http.Request, actorID string) ([]byte, []PIIViolation) {
	var violations []PIIViolation
	record := func(field PIIField, raw, masked string) {
		v := PIIViolation{
			ID:          types.NewID(),
			Timestamp:   time.Now().UTC(),
			Field:       field,
			ActorID:     actorID,
			RawValue:    raw,
			MaskedValue: masked,
		}
		if r != nil {
			v.RequestPath = r.URL.Path
			v.RequestMethod = r.Method
		}
		violations = append(violations, v)
	}

	// RRN first: its digits would otherwise look like a phone number
	body = g.rrnPattern.ReplaceAllFunc(body, func(m []byte) []byte {
		masked := string(m[:6]) + "-*******"
		record(PIIFieldRRN, string(m), masked)
		return []byte(masked)
	})
	body = replaceUnlessAfter(body, g.phonePattern, ".:", func(m []byte) []byte {
		masked := MaskPhone(string(m))
		record(PIIFieldPhone, string(m), masked)
		return []byte(masked)
	})
	body = g.emailPattern.ReplaceAllFunc(body, func(m []byte) []byte {
		masked := MaskEmail(string(m))
		record(PIIFieldEmail, string(m), masked)
		return []byte(masked)
	})
	return body, violations
}

// replaceUnlessAfter is ReplaceAllFunc that leaves matches directly preceded
// by one of the skip bytes alone (fractional seconds in timestamps).
func replaceUnlessAfter(src []byte, re *regexp.Regexp, skip string, fn func([]byte) []byte) []byte {
	matches := re.FindAllIndex(src, -1)
	if len(matches) == 0 {
		return src
	}
	var out bytes.Buffer
	last := 0
	for _, m := range matches {
		if m[0] > 0 && strings.IndexByte(skip, src[m[0]-1]) >= 0 {
			continue
		}
		out.Write(src[last:m[0]])
		out.Write(fn(src[m[0]:m[1]]))
		last = m[1]
	}
	out.Write(src[last:])
	return out.Bytes()
}

func (g *Guard) report(ctx context.Context, violations []PIIViolation) {
	log := logger.From(ctx)
	for i := range violations {
		log.Warn("unmasked personal data redacted from response",
			zap.String("field", string(violations[i].Field)),
			zap.String("path", violations[i].RequestPath),
			zap.String("masked", violations[i].MaskedValue),
		)
		if g.handler == nil {
			continue
		}
		if err := g.handler.HandleViolation(ctx, &violations[i]); err != nil {
			log.Error("failed to record PII violation", zap.Error(err))
		}
	}
}

func (g *Guard) isExempt(path string) bool {
	for _, prefix := range g.exemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// responseRecorder buffers the response so it can be inspected.
type responseRecorder struct {
	http.ResponseWriter
	body       *bytes.Buffer
	statusCode int
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	return w.body.Write(b)
}

func (w *responseRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
}
