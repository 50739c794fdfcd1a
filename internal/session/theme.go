package session

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aitechnerd/sshore/internal/config"
)

// Terminal theming via OSC escape sequences. Terminals that do not support
// a given code ignore it, so every sequence is emitted unconditionally.

// titleSeq sets the terminal/tab title (OSC 0).
func titleSeq(title string) string {
	return "\x1b]0;" + title + "\x07"
}

// tabColorSeqs sets the tab color for Terminal.app (OSC 6, one sequence per
// RGB component) and iTerm2 (OSC 1337 SetColors).
func tabColorSeqs(hex string) []string {
	r, g, b, ok := parseHexColor(hex)
	if !ok {
		return nil
	}
	return []string{
		fmt.Sprintf("\x1b]6;1;bg;red;brightness;%d\x07", r),
		fmt.Sprintf("\x1b]6;1;bg;green;brightness;%d\x07", g),
		fmt.Sprintf("\x1b]6;1;bg;blue;brightness;%d\x07", b),
		"\x1b]1337;SetColors=tab=" + strings.TrimPrefix(hex, "#") + "\x07",
	}
}

// resetSeqs restores default title and tab color.
func resetSeqs() []string {
	return []string{
		titleSeq(""),
		"\x1b]6;1;bg;*;default\x07",
		"\x1b]1337;SetColors=tab=default\x07",
	}
}

// parseHexColor parses #RGB or #RRGGBB into 0-255 components.
func parseHexColor(hex string) (r, g, b int, ok bool) {
	hex = strings.TrimPrefix(hex, "#")
	switch len(hex) {
	case 3:
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	case 6:
	default:
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return int(v >> 16 & 0xFF), int(v >> 8 & 0xFF), int(v & 0xFF), true
}

// RenderTitle expands the tab title template for one host. Placeholders:
// {name}, {host}, {user}, {env}, {badge}, {label}.
func RenderTitle(template string, rec *config.HostRecord, user, env string, color config.EnvColor) string {
	r := strings.NewReplacer(
		"{name}", rec.Name,
		"{host}", rec.Host,
		"{user}", user,
		"{env}", env,
		"{badge}", color.Badge,
		"{label}", color.Label,
	)
	return strings.TrimSpace(r.Replace(template))
}

// applyTheme writes the title and tab color sequences for the host's
// environment tier. Unknown tiers still get a title.
func applyTheme(w io.Writer, settings *config.Settings, rec *config.HostRecord, user string) {
	env := config.DetectEnv(rec)
	color := settings.EnvColors[env]

	title := RenderTitle(settings.TabTitleTemplate, rec, user, env, color)
	io.WriteString(w, titleSeq(title))

	if color.BG != "" {
		for _, seq := range tabColorSeqs(color.BG) {
			io.WriteString(w, seq)
		}
	}
}

// resetTheme restores the terminal's default title and tab color.
func resetTheme(w io.Writer) {
	for _, seq := range resetSeqs() {
		io.WriteString(w, seq)
	}
}
