package notification

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// TemplateName identifies a message template.
type TemplateName string

const (
	TemplateAccountApproved    TemplateName = "account_approved"
	TemplateAccountRejected    TemplateName = "account_rejected"
	TemplateInspectionRejected TemplateName = "inspection_rejected"
	TemplateExpiryReminder     TemplateName = "expiry_reminder"
)

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

func mustTemplate(name, subject, body string) messageTemplate {
	return messageTemplate{
		subject: template.Must(template.New(name + ".subject").Option("missingkey=error").Parse(subject)),
		body:    template.Must(template.New(name + ".body").Option("missingkey=error").Parse(body)),
	}
}

var templates = map[TemplateName]messageTemplate{
	TemplateAccountApproved: mustTemplate("account_approved",
		"[AED 점검] 가입이 승인되었습니다",
		`{{.Name}}님, 안녕하세요.

AED 점검 관리 시스템 가입이 승인되었습니다.
부여된 권한: {{.RoleLabel}}
소속 기관: {{.Organization}}

로그인 후 업무를 시작하실 수 있습니다.
`),
	TemplateAccountRejected: mustTemplate("account_rejected",
		"[AED 점검] 가입 신청이 반려되었습니다",
		`{{.Name}}님, 안녕하세요.

AED 점검 관리 시스템 가입 신청이 반려되었습니다.
사유: {{.Reason}}

문의 사항은 관할 보건소로 연락해 주십시오.
`),
	TemplateInspectionRejected: mustTemplate("inspection_rejected",
		"[AED 점검] 점검 결과가 반려되었습니다 ({{.EquipmentSerial}})",
		`{{.Name}}님, 안녕하세요.

{{.InspectionDate}}에 제출하신 장비 {{.EquipmentSerial}} 점검 결과가 반려되었습니다.
사유: {{.Reason}}

내용을 수정하여 다시 제출해 주십시오.
`),
	TemplateExpiryReminder: mustTemplate("expiry_reminder",
		"[AED 점검] 소모품 유효기간 만료 예정 장비 {{len .Items}}대",
		`{{.Organization}} 담당자님, 안녕하세요.

{{.LeadDays}}일 이내에 배터리 또는 패드 유효기간이 만료되거나 이미 만료된 장비 목록입니다.
{{range .Items}}
- {{.Serial}} {{.Institution}} ({{.Address}}) {{.Detail}}{{end}}

교체 후 점검 결과를 등록해 주십시오.
`),
}

// ReminderItem is one line of an expiry reminder.
type ReminderItem struct {
	Serial      string
	Institution string
	Address     string
	Detail      string
}

// Render fills a template with data and returns the subject and body.
func Render(name TemplateName, data any) (string, string, error) {
	t, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown template %q", name)
	}

	var subject, body bytes.Buffer
	if err := t.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := t.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", name, err)
	}
	return strings.TrimSpace(subject.String()), body.String(), nil
}

// Build renders a template for a recipient.
func Build(name TemplateName, to Recipient, data any) (*Notification, error) {
	if to.Email == "" {
		return nil, fmt.Errorf("recipient %q has no email", to.ID)
	}
	subject, body, err := Render(name, data)
	if err != nil {
		return nil, err
	}
	return &Notification{
		Template:      name,
		RecipientID:   to.ID,
		RecipientName: to.Name,
		Email:         to.Email,
		Subject:       subject,
		Body:          body,
	}, nil
}
