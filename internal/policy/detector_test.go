package policy

import (
	"strings"
	"testing"
)

func categories(d Detection) map[Category]bool {
	out := map[Category]bool{}
	for _, v := range d.Violations {
		out[v.Category] = true
	}
	return out
}

func TestDetect_PhoneNumbers(t *testing.T) {
	t.Parallel()

	cases := []string{
		"call me at 555-123-4567",
		"my cell is (555) 123 4567",
		"reach +1 555 123 4567 anytime",
		"just 5551234567 thanks",
	}
	for _, body := range cases {
		d := Detect(body)
		if !d.Detected || !categories(d)[CategoryPhoneNumber] {
			t.Fatalf("expected phone detection in %q, got %+v", body, d)
		}
	}
}

func TestDetect_IgnoresYearsAndShortDigits(t *testing.T) {
	t.Parallel()

	for _, body := range []string{
		"see you at 4pm",
		"booked for room 204",
	} {
		d := Detect(body)
		if categories(d)[CategoryPhoneNumber] {
			t.Fatalf("false positive phone in %q: %+v", body, d)
		}
	}
}

func TestDetect_EmailAndURL(t *testing.T) {
	t.Parallel()

	d := Detect("email me at jess@example.com or visit https://example.com/book")
	got := categories(d)
	if !got[CategoryEmail] {
		t.Fatalf("expected email detection: %+v", d)
	}
	if !got[CategoryURL] {
		t.Fatalf("expected url detection: %+v", d)
	}
}

func TestDetect_SocialKeywords(t *testing.T) {
	t.Parallel()

	for _, body := range []string{
		"find me on Instagram",
		"just DM me",
		"hit me up on whatsapp",
	} {
		d := Detect(body)
		if !categories(d)[CategorySocialMedia] {
			t.Fatalf("expected social detection in %q: %+v", body, d)
		}
	}
}

func TestDetect_CleanMessage(t *testing.T) {
	t.Parallel()

	d := Detect("Buddy did great on his walk today! He ate all his dinner.")
	if d.Detected {
		t.Fatalf("clean message flagged: %+v", d)
	}
}

func TestRedact(t *testing.T) {
	t.Parallel()

	body := "call me at 555-123-4567 or jess@example.com"
	d := Detect(body)
	redacted := Redact(body, d.Violations)

	if strings.Contains(redacted, "555-123-4567") {
		t.Fatalf("phone not redacted: %q", redacted)
	}
	if !strings.Contains(redacted, "***-***-4567") {
		t.Fatalf("expected last-4 phone mask: %q", redacted)
	}
	if strings.Contains(redacted, "jess@") {
		t.Fatalf("email user not redacted: %q", redacted)
	}
	if !strings.Contains(redacted, "***@example.com") {
		t.Fatalf("expected domain-only email mask: %q", redacted)
	}
}

func TestRedact_URLKeepsHostname(t *testing.T) {
	t.Parallel()

	body := "book direct at https://cheapersitters.example/offers"
	d := Detect(body)
	redacted := Redact(body, d.Violations)
	if !strings.Contains(redacted, "***cheapersitters.example") {
		t.Fatalf("expected hostname mask: %q", redacted)
	}
}

func TestWarning_MentionsCategories(t *testing.T) {
	t.Parallel()

	warning := Warning([]Violation{
		{Category: CategoryPhoneNumber, Content: "5551234567"},
		{Category: CategoryURL, Content: "example.com/x"},
	})
	if !strings.Contains(warning, "phone numbers") {
		t.Fatalf("warning missing phone mention: %q", warning)
	}
	if !strings.Contains(warning, "external links") {
		t.Fatalf("warning missing link mention: %q", warning)
	}
	if strings.Contains(warning, "email addresses") {
		t.Fatalf("warning mentions undetected category: %q", warning)
	}
}
