package notify

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	ColorInfo     = "0078D4"
	ColorSuccess  = "28A745"
	ColorWarning  = "FFC107"
	ColorError    = "DC3545"
	ColorCritical = "8B0000"
)

var namedColors = map[string]string{
	"INFO":     ColorInfo,
	"ACCENT":   ColorInfo,
	"SUCCESS":  ColorSuccess,
	"WARNING":  ColorWarning,
	"ERROR":    ColorError,
	"CRITICAL": ColorCritical,
}

var ErrInvalidColor = errors.New("color must be a 6-character hex code or a severity name")

// NormalizeColor accepts "#ff0000", "FF0000" or a severity name and returns
// the upper-case hex form. Empty means INFO.
func NormalizeColor(v string) (string, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	if v == "" {
		return ColorInfo, nil
	}
	if hex, ok := namedColors[v]; ok {
		return hex, nil
	}
	v = strings.TrimPrefix(v, "#")
	if len(v) != 6 {
		return "", ErrInvalidColor
	}
	if _, err := strconv.ParseUint(v, 16, 32); err != nil {
		return "", ErrInvalidColor
	}
	return v, nil
}

// MessageCard is the Office 365 connector card Teams webhooks accept.
type MessageCard struct {
	Type       string    `json:"@type"`
	Context    string    `json:"@context"`
	ThemeColor string    `json:"themeColor"`
	Summary    string    `json:"summary"`
	Title      string    `json:"title,omitempty"`
	Text       string    `json:"text"`
	Sections   []Section `json:"sections,omitempty"`
}

type Section struct {
	Facts []Fact `json:"facts"`
}

type Fact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Facts orders a fact map by name.
func Facts(m map[string]string) []Fact {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]Fact, 0, len(names))
	for _, name := range names {
		out = append(out, Fact{Name: name, Value: m[name]})
	}
	return out
}

// NewMessageCard builds a card; color must already be normalized.
func NewMessageCard(title, text, color string, facts []Fact) MessageCard {
	card := MessageCard{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: color,
		Summary:    summary(title, text),
		Title:      strings.TrimSpace(title),
		Text:       text,
	}
	if len(facts) > 0 {
		card.Sections = []Section{{Facts: facts}}
	}
	return card
}

func summary(title, text string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	if utf8.RuneCountInString(text) <= 100 {
		return text
	}
	return string([]rune(text)[:100])
}

// VerificationCard carries a channel verification code.
func VerificationCard(appCode, alertType, code string, expiry time.Duration) MessageCard {
	text := fmt.Sprintf("Please verify this Teams channel to enable notifications. "+
		"The code expires in %d minutes. Enter it in the registration UI to complete setup.", int(expiry.Minutes()))
	return NewMessageCard("Channel Verification", text, ColorInfo, []Fact{
		{Name: "App Code", Value: appCode},
		{Name: "Alert Type", Value: alertType},
		{Name: "Verification Code", Value: "**" + code + "**"},
	})
}
