package signing

import (
	"context"
	"sync"

	"digital-signer/pkg/notice"
)

type fakeBackend struct {
	mu      sync.Mutex
	formats []string
	listErr error
	signFn  func(req SignRequest) (ArtifactRef, error)
	calls   []SignRequest
	secrets []string
}

func (b *fakeBackend) ListPrintFormats(ctx context.Context, docType string) ([]string, error) {
	return b.formats, b.listErr
}

func (b *fakeBackend) Sign(ctx context.Context, req SignRequest) (ArtifactRef, error) {
	b.mu.Lock()
	b.calls = append(b.calls, req)
	_ = req.Credential.Use(func(secret string) error {
		b.secrets = append(b.secrets, secret)
		return nil
	})
	fn := b.signFn
	b.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return ArtifactRef{ID: "att-1", FileName: req.Document.Name + "-signed.pdf"}, nil
}

type fakeHost struct {
	mu       sync.Mutex
	notices  []notice.Notice
	reloads  []ArtifactRef
	shown    int
	hidden   int
	progress []string
}

func (h *fakeHost) Notify(n notice.Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notices = append(h.notices, n)
}

func (h *fakeHost) ShowProgress(title, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shown++
	h.progress = append(h.progress, title+": "+message)
}

func (h *fakeHost) HideProgress() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hidden++
}

func (h *fakeHost) ReloadRecord(doc DocumentRef, ref ArtifactRef) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reloads = append(h.reloads, ref)
}

func (h *fakeHost) titles() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, n := range h.notices {
		out = append(out, n.Title)
	}
	return out
}

func (h *fakeHost) last() notice.Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.notices) == 0 {
		return notice.Notice{}
	}
	return h.notices[len(h.notices)-1]
}

type fakeSurface struct {
	id     string
	closed int
}

func (s *fakeSurface) ID() string   { return s.id }
func (s *fakeSurface) URL() string  { return "http://127.0.0.1:1/preview/" + s.id + "?token=secret" }
func (s *fakeSurface) Close() error { s.closed++; return nil }

type fakePreviews struct {
	next    int
	opened  []*fakeSurface
	openErr error
}

func (p *fakePreviews) Open(ctx context.Context, doc DocumentRef, format string, mode Mode) (PreviewSurface, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	p.next++
	s := &fakeSurface{id: "surface-" + string(rune('0'+p.next))}
	p.opened = append(p.opened, s)
	return s, nil
}
