package privacy

import (
	"regexp"
	"strings"

	"github.com/aed-compliance/platform/internal/access"
	"github.com/aed-compliance/platform/internal/equipment/domain"
	"github.com/aed-compliance/platform/internal/shared/types"
)

const maskToken = "***"

var maskedPhonePattern = regexp.MustCompile(`^\d{2,3}-\*{3}-\d{4}$`)

// MaskSensitiveFields hides contact details from callers whose scope does
// not allow sensitive data. When the scope allows it the input slice itself
// is returned. Otherwise every record is copied; the input is never modified.
func MaskSensitiveFields(records []domain.Equipment, scope access.AccessScope) []domain.Equipment {
	if scope.CanViewSensitiveData {
		return records
	}
	if records == nil {
		return nil
	}

	out := make([]domain.Equipment, len(records))
	for i := range records {
		out[i] = MaskEquipment(records[i])
	}
	return out
}

// MaskEquipment returns a masked copy of one record.
func MaskEquipment(e domain.Equipment) domain.Equipment {
	e.ManagerPhone = MaskPhone(e.ManagerPhone)
	e.InstitutionPhone = MaskPhone(e.InstitutionPhone)
	e.ManagerEmail = MaskEmail(e.ManagerEmail)
	e.InstallAddress = MaskAddress(e.InstallAddress)
	e.InstallDetail = MaskAddress(e.InstallDetail)
	return e
}

// MaskPhone keeps the area code and the last four digits: 02-***-5678,
// 010-***-5678. Already masked values are returned unchanged.
func MaskPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" || maskedPhonePattern.MatchString(phone) {
		return phone
	}

	digits := types.PhoneDigits(phone)
	if len(digits) < 8 {
		return "***-***-****"
	}
	prefix := 3
	if strings.HasPrefix(digits, "02") {
		prefix = 2
	}
	return digits[:prefix] + "-" + maskToken + "-" + digits[len(digits)-4:]
}

// MaskEmail keeps up to three leading characters of the local part.
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return ""
	}
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return maskToken + "@" + maskToken
	}
	local, domainPart := []rune(email[:at]), email[at+1:]
	if strings.HasSuffix(string(local), maskToken) {
		return email
	}

	keep := len(local) / 2
	if keep < 1 {
		keep = 1
	}
	if keep > 3 {
		keep = 3
	}
	return string(local[:keep]) + maskToken + "@" + domainPart
}

// MaskAddress drops the most specific (last) token of an address.
func MaskAddress(addr string) string {
	fields := strings.Fields(addr)
	if len(fields) == 0 {
		return ""
	}
	if fields[len(fields)-1] == maskToken {
		return strings.Join(fields, " ")
	}
	fields[len(fields)-1] = maskToken
	return strings.Join(fields, " ")
}
