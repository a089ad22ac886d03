package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mail "github.com/go-mail/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aed-compliance/platform/internal/shared/config"
)

type flakyProvider struct {
	mu       sync.Mutex
	failures int
	sent     []*Notification
	calls    int
}

func (p *flakyProvider) Name() string { return "test" }

func (p *flakyProvider) Send(_ context.Context, n *Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures > 0 {
		p.failures--
		return errors.New("relay unavailable")
	}
	p.sent = append(p.sent, n)
	return nil
}

func (p *flakyProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func fastConfig() ServiceConfig {
	return ServiceConfig{Workers: 2, BufferSize: 16, RetryAttempts: 3, RetryDelay: time.Millisecond}
}

func TestRender(t *testing.T) {
	subject, body, err := Render(TemplateAccountRejected, map[string]any{"Name": "홍길동", "Reason": "소속 확인 불가"})
	require.NoError(t, err)
	assert.Equal(t, "[AED 점검] 가입 신청이 반려되었습니다", subject)
	assert.Contains(t, body, "홍길동님")
	assert.Contains(t, body, "사유: 소속 확인 불가")

	subject, body, err = Render(TemplateExpiryReminder, map[string]any{
		"Organization": "중구 보건소",
		"LeadDays":     30,
		"Items": []ReminderItem{
			{Serial: "11-0010656", Institution: "중구청", Address: "대구광역시 중구 공평로 88", Detail: "battery"},
			{Serial: "13-0000485", Institution: "동성로 약국", Address: "대구광역시 중구 동성로 1", Detail: "patch"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, subject, "2대")
	assert.Contains(t, body, "- 11-0010656 중구청")
	assert.Contains(t, body, "30일 이내")
}

func TestRender_Errors(t *testing.T) {
	_, _, err := Render("nope", nil)
	assert.Error(t, err)

	_, _, err = Render(TemplateAccountRejected, map[string]any{"Name": "x"})
	assert.Error(t, err, "missing keys must not render as <no value>")
}

func TestBuild_RequiresEmail(t *testing.T) {
	_, err := Build(TemplateAccountApproved, Recipient{ID: "u1"}, nil)
	assert.Error(t, err)
}

func TestDeliver_RetriesThenSucceeds(t *testing.T) {
	p := &flakyProvider{failures: 2}
	s := NewService(p, zap.NewNop(), fastConfig())

	n := &Notification{Email: "a@example.kr", Subject: "s", Body: "b", Template: TemplateAccountApproved}
	require.NoError(t, s.Deliver(context.Background(), n))

	assert.Equal(t, 3, p.calls)
	assert.Equal(t, StatusSent, n.Status)
	assert.Equal(t, 2, n.RetryCount)
	assert.NotNil(t, n.SentAt)
	assert.NotEmpty(t, n.ID)

	stats := s.GetStats()
	assert.Equal(t, int64(1), stats.TotalDelivered)
	assert.Equal(t, int64(1), stats.ByTemplate[TemplateAccountApproved])
}

func TestDeliver_GivesUp(t *testing.T) {
	p := &flakyProvider{failures: 10}
	core, logs := observer.New(zap.WarnLevel)
	s := NewService(p, zap.New(core), fastConfig())

	n := &Notification{Email: "a@example.kr"}
	err := s.Deliver(context.Background(), n)
	require.Error(t, err)
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, StatusFailed, n.Status)
	assert.Equal(t, "relay unavailable", n.ErrorMessage)
	assert.Equal(t, 3, logs.FilterMessage("notification attempt failed").Len())
	assert.Equal(t, int64(1), s.GetStats().TotalFailed)
}

func TestDeliver_StopsOnCancel(t *testing.T) {
	p := &flakyProvider{failures: 10}
	cfg := fastConfig()
	cfg.RetryDelay = time.Hour
	s := NewService(p, zap.NewNop(), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := s.Deliver(ctx, &Notification{Email: "a@example.kr"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.calls)
}

func TestService_Workers(t *testing.T) {
	p := &flakyProvider{failures: 1}
	s := NewService(p, zap.NewNop(), fastConfig())
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Notify(context.Background(), TemplateAccountRejected,
			Recipient{ID: "u", Email: "u@example.kr"}, map[string]any{"Name": "u", "Reason": "r"}))
	}
	s.Stop()

	assert.Equal(t, 5, p.count())
}

func TestService_SendWithoutWorkersIsSynchronous(t *testing.T) {
	p := &flakyProvider{}
	s := NewService(p, zap.NewNop(), fastConfig())
	require.NoError(t, s.Send(context.Background(), &Notification{Email: "a@example.kr"}))
	assert.Equal(t, 1, p.count())
}

func TestService_SendAfterStopIsDelivered(t *testing.T) {
	p := &flakyProvider{}
	s := NewService(p, zap.NewNop(), fastConfig())
	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	require.NoError(t, s.Send(context.Background(), &Notification{Email: "a@example.kr"}))
	assert.Equal(t, 1, p.count())
}

func TestService_SendRacingStopIsNotDropped(t *testing.T) {
	p := &flakyProvider{}
	s := NewService(p, zap.NewNop(), fastConfig())
	require.NoError(t, s.Start(context.Background()))

	const senders = 12
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Send(context.Background(), &Notification{Email: "a@example.kr"}))
		}()
	}
	s.Stop()
	wg.Wait()

	assert.Equal(t, senders, p.count())
}

type captureDialer struct {
	msgs []*mail.Message
}

func (d *captureDialer) DialAndSend(m ...*mail.Message) error {
	d.msgs = append(d.msgs, m...)
	return nil
}

func TestSMTPProvider(t *testing.T) {
	p := NewSMTPProvider(config.SMTPConfig{Host: "smtp.example.kr", Port: 587, From: "noreply@aed.kr", FromName: "AED"})
	d := &captureDialer{}
	p.dialer = d

	n, err := Build(TemplateAccountApproved, Recipient{ID: "u1", Name: "홍길동", Email: "hong@example.kr"},
		map[string]any{"Name": "홍길동", "RoleLabel": "보건소 관리자", "Organization": "중구 보건소"})
	require.NoError(t, err)
	require.NoError(t, p.Send(context.Background(), n))

	require.Len(t, d.msgs, 1)
	assert.Equal(t, []string{n.Subject}, d.msgs[0].GetHeader("Subject"))
	require.Len(t, d.msgs[0].GetHeader("To"), 1)
	assert.True(t, strings.Contains(d.msgs[0].GetHeader("To")[0], "hong@example.kr"))
}

func TestNewProvider(t *testing.T) {
	assert.Equal(t, "log", NewProvider(config.SMTPConfig{}, zap.NewNop()).Name())
	assert.Equal(t, "smtp", NewProvider(config.SMTPConfig{Enabled: true, Host: "h", Port: 25}, zap.NewNop()).Name())
}

func TestLogProvider(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogProvider(zap.New(core))
	require.NoError(t, p.Send(context.Background(), &Notification{Email: "a@example.kr", Subject: "hi"}))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "a@example.kr", logs.All()[0].ContextMap()["to"])
}
