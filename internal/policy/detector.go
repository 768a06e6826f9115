package policy

import (
	"net/url"
	"regexp"
	"strings"
)

// Category classifies an off-platform contact attempt.
type Category string

const (
	CategoryPhoneNumber Category = "phone_number"
	CategoryEmail       Category = "email"
	CategoryURL         Category = "url"
	CategorySocialMedia Category = "social_media"
)

// Violation is one detected prohibited pattern in a message body.
type Violation struct {
	Category Category
	Content  string
}

// Detection is the result of scanning a message body.
type Detection struct {
	Detected   bool
	Violations []Violation
}

var (
	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`),
		regexp.MustCompile(`\(\d{3}\)\s?\d{3}[-.\s]?\d{4}\b`),
		regexp.MustCompile(`\+\d{1,3}[-.\s]?\d{1,4}[-.\s]?\d{1,4}[-.\s]?\d{1,9}\b`),
		regexp.MustCompile(`\b\d{10,15}\b`),
	}
	yearPattern = regexp.MustCompile(`^(19|20)\d{2}$`)

	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	urlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bhttps?://\S+`),
		regexp.MustCompile(`\bwww\.\S+\.[a-z]{2,}\S*`),
		regexp.MustCompile(`\b[a-z0-9-]+\.[a-z]{2,}/\S*`),
	}
	ipPattern = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+`)

	nonDigit = regexp.MustCompile(`\D`)

	socialKeywords = []string{
		"instagram", "insta", "snapchat", "whatsapp", "whats app",
		"telegram", "facebook", "tiktok", "x.com",
		"dm me", "direct message", "text me", "txt me", "call me",
		"contact me", "reach out", "hit me up",
		"my number", "my phone", "my email",
		"private message", "pm me",
	}
	socialPatterns []*regexp.Regexp
)

func init() {
	socialPatterns = make([]*regexp.Regexp, 0, len(socialKeywords))
	for _, keyword := range socialKeywords {
		pattern := `(?i)\b` + strings.ReplaceAll(regexp.QuoteMeta(keyword), `\ `, `\s+`) + `\b`
		socialPatterns = append(socialPatterns, regexp.MustCompile(pattern))
	}
}

// Detect scans a message body for off-platform contact patterns.
func Detect(body string) Detection {
	normalized := strings.ToLower(strings.TrimSpace(body))
	var violations []Violation

	seen := map[string]struct{}{}
	add := func(category Category, content string) {
		content = strings.TrimSpace(content)
		key := string(category) + "\x00" + content
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		violations = append(violations, Violation{Category: category, Content: content})
	}

	for _, pattern := range phonePatterns {
		for _, match := range pattern.FindAllString(normalized, -1) {
			digits := nonDigit.ReplaceAllString(match, "")
			if len(digits) < 10 || len(digits) > 15 {
				continue
			}
			if yearPattern.MatchString(digits) {
				continue
			}
			add(CategoryPhoneNumber, match)
		}
	}

	for _, match := range emailPattern.FindAllString(normalized, -1) {
		add(CategoryEmail, match)
	}

	for _, pattern := range urlPatterns {
		for _, match := range pattern.FindAllString(normalized, -1) {
			if strings.Contains(match, "@") || ipPattern.MatchString(match) {
				continue
			}
			add(CategoryURL, match)
		}
	}

	for _, pattern := range socialPatterns {
		for _, match := range pattern.FindAllString(normalized, -1) {
			add(CategorySocialMedia, match)
		}
	}

	return Detection{Detected: len(violations) > 0, Violations: violations}
}

// Redact masks detected content while keeping enough context for the owner
// view: phones keep the last 4 digits, emails keep the domain, URLs keep the
// hostname, social phrases are replaced outright.
func Redact(body string, violations []Violation) string {
	redacted := body
	for _, v := range violations {
		pattern := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(v.Content))
		var replacement string
		switch v.Category {
		case CategoryPhoneNumber:
			digits := nonDigit.ReplaceAllString(v.Content, "")
			last4 := digits
			if len(digits) > 4 {
				last4 = digits[len(digits)-4:]
			}
			replacement = "***-***-" + last4
		case CategoryEmail:
			if at := strings.LastIndex(v.Content, "@"); at >= 0 {
				replacement = "***@" + v.Content[at+1:]
			} else {
				replacement = "[REDACTED]"
			}
		case CategoryURL:
			replacement = "***" + hostnameOf(v.Content)
		default:
			replacement = "[REDACTED]"
		}
		redacted = pattern.ReplaceAllString(redacted, replacement)
	}
	return redacted
}

func hostnameOf(raw string) string {
	candidate := raw
	if !strings.HasPrefix(candidate, "http://") && !strings.HasPrefix(candidate, "https://") {
		candidate = "https://" + candidate
	}
	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Hostname() == "" {
		return "[URL]"
	}
	return parsed.Hostname()
}

// Warning builds the auto-response sent back to a blocked sender.
func Warning(violations []Violation) string {
	categories := map[Category]bool{}
	for _, v := range violations {
		categories[v.Category] = true
	}

	var b strings.Builder
	b.WriteString("Hi! For your safety and ours, we can't share personal contact information through this messaging system. ")
	if categories[CategoryPhoneNumber] {
		b.WriteString("Please don't include phone numbers. ")
	}
	if categories[CategoryEmail] {
		b.WriteString("Please don't include email addresses. ")
	}
	if categories[CategoryURL] {
		b.WriteString("Please don't include external links. ")
	}
	if categories[CategorySocialMedia] {
		b.WriteString("Please don't request contact outside our platform. ")
	}
	b.WriteString("If you need help, please contact our team directly through this number. Thank you!")
	return b.String()
}
