package extract

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	plainEmailRe  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	strictEmailRe = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)

	// {alice,bob}@cs.uni.edu
	mergedEmailRe = regexp.MustCompile(`\{\s*([a-zA-Z0-9._\-]+(?:\s*,\s*[a-zA-Z0-9._\-]+)*)\s*\}\s*@([a-zA-Z0-9.\-]+\.[a-zA-Z]{2,})`)

	// alice [at] cs [dot] uni [dot] edu, alice (at) cs.uni.edu
	bracketEmailRe = regexp.MustCompile(`(?i)([a-z0-9._%+\-]+)\s*[\[\(\{]\s*at\s*[\]\)\}]\s*([a-z0-9\-]+(?:(?:\s*[\[\(\{]\s*dot\s*[\]\)\}]\s*|\s+dot\s+|\.)[a-z0-9\-]+)+)`)
	// alice at cs dot uni dot edu
	wordEmailRe = regexp.MustCompile(`(?i)([a-z0-9._%+\-]+)\s+at\s+([a-z0-9\-]+(?:\s+dot\s+[a-z0-9\-]+)+)`)
	// alice AT cs.uni.edu
	upperAtEmailRe = regexp.MustCompile(`([a-zA-Z0-9._%+\-]+)\s+AT\s+([a-zA-Z0-9\-]+(?:(?:\s+DOT\s+|\.)[a-zA-Z0-9\-]+)+)`)

	dotTokenRe = regexp.MustCompile(`(?i)\s*[\[\(\{]\s*dot\s*[\]\)\}]\s*|\s+dot\s+`)
)

var spamDomains = []string{
	"example.com", "example.org", "test.com", "dummy.com", "localhost",
	"tempmail.com", "10minutemail.com", "guerrillamail.com",
}

var spamLocals = map[string]bool{
	"noreply": true, "no-reply": true, "donotreply": true, "do-not-reply": true,
	"admin": true, "webmaster": true, "info": true, "support": true,
	"contact": true, "hello": true, "help": true, "service": true,
	"sales": true, "marketing": true, "postmaster": true,
	"mailer-daemon": true, "root": true, "daemon": true,
}

var placeholderMarkers = []string{"test", "demo", "sample", "fake", "invalid"}

// ValidEmail reports whether s is a syntactically acceptable address.
func ValidEmail(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || len(s) > 254 || !strictEmailRe.MatchString(s) {
		return false
	}
	if strings.Contains(s, "..") {
		return false
	}
	_, err := mail.ParseAddress(s)
	return err == nil
}

// SpamEmail reports system, placeholder, or throwaway addresses that must
// never be treated as a person.
func SpamEmail(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return true
	}
	local, domain := s[:at], s[at+1:]
	for _, d := range spamDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	if spamLocals[local] {
		return true
	}
	for _, m := range placeholderMarkers {
		if strings.Contains(local, m) {
			return true
		}
	}
	return false
}

// emailSet keeps first-seen order and drops invalid or spam entries.
type emailSet struct {
	seen  map[string]bool
	order []string
}

func newEmailSet() *emailSet {
	return &emailSet{seen: make(map[string]bool)}
}

func (s *emailSet) add(raw string) {
	e := strings.ToLower(strings.Trim(strings.TrimSpace(raw), ".,;:<>()[]\"'"))
	if s.seen[e] || !ValidEmail(e) || SpamEmail(e) {
		return
	}
	s.seen[e] = true
	s.order = append(s.order, e)
}

func (s *emailSet) list() []string {
	return s.order
}

// ScanText finds addresses in plain text: merged lists, obfuscated forms,
// then ordinary addresses. Results are lowercase and unique.
func ScanText(text string) []string {
	set := newEmailSet()
	scanTextInto(set, text)
	return set.list()
}

func scanTextInto(set *emailSet, text string) {
	for _, m := range mergedEmailRe.FindAllStringSubmatch(text, -1) {
		for _, user := range strings.Split(m[1], ",") {
			set.add(strings.TrimSpace(user) + "@" + m[2])
		}
	}
	// merged lists would otherwise leave a dangling "bob}@host" fragment
	text = mergedEmailRe.ReplaceAllString(text, " ")

	for _, re := range []*regexp.Regexp{bracketEmailRe, wordEmailRe, upperAtEmailRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			domain := dotTokenRe.ReplaceAllString(m[2], ".")
			domain = strings.ReplaceAll(domain, " DOT ", ".")
			set.add(m[1] + "@" + domain)
		}
	}

	for _, e := range plainEmailRe.FindAllString(text, -1) {
		set.add(e)
	}
}

// ScanHTML collects mailto links first, then everything ScanText finds in
// the visible text.
func ScanHTML(doc *goquery.Document) []string {
	set := newEmailSet()
	doc.Find(`a[href]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if len(href) < 7 || !strings.EqualFold(href[:7], "mailto:") {
			return
		}
		addr := href[7:]
		if i := strings.IndexAny(addr, "?&"); i >= 0 {
			addr = addr[:i]
		}
		for _, part := range strings.Split(addr, ",") {
			set.add(part)
		}
	})

	scanTextInto(set, visibleText(doc))
	return set.list()
}

// visibleText joins text nodes with spaces so adjacent inline elements do
// not fuse into one token.
func visibleText(doc *goquery.Document) string {
	var b strings.Builder
	doc.Find("*").Not("script, style, noscript").Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) != "#text" {
			return
		}
		b.WriteString(s.Text())
		b.WriteByte(' ')
	})
	return b.String()
}
