// Package theme holds terminal colour schemes: a fixed set of builtins plus
// user themes loaded from themes.json.
package theme

import "sort"

// Theme is an xterm-style colour scheme.
type Theme struct {
	Background          string `json:"background"`
	Foreground          string `json:"foreground"`
	Cursor              string `json:"cursor"`
	CursorAccent        string `json:"cursorAccent"`
	SelectionBackground string `json:"selectionBackground"`
	Black               string `json:"black"`
	Red                 string `json:"red"`
	Green               string `json:"green"`
	Yellow              string `json:"yellow"`
	Blue                string `json:"blue"`
	Magenta             string `json:"magenta"`
	Cyan                string `json:"cyan"`
	White               string `json:"white"`
	BrightBlack         string `json:"brightBlack"`
	BrightRed           string `json:"brightRed"`
	BrightGreen         string `json:"brightGreen"`
	BrightYellow        string `json:"brightYellow"`
	BrightBlue          string `json:"brightBlue"`
	BrightMagenta       string `json:"brightMagenta"`
	BrightCyan          string `json:"brightCyan"`
	BrightWhite         string `json:"brightWhite"`
}

// DefaultName is the fallback theme.
const DefaultName = "Dracula"

// SystemName follows the OS light/dark setting.
const SystemName = "system"

var builtins = map[string]Theme{
	"Dracula": {
		Background:          "#282a36",
		Foreground:          "#f8f8f2",
		Cursor:              "#f8f8f2",
		CursorAccent:        "#282a36",
		SelectionBackground: "#44475a",
		Black:               "#21222c",
		Red:                 "#ff5555",
		Green:               "#50fa7b",
		Yellow:              "#f1fa8c",
		Blue:                "#bd93f9",
		Magenta:             "#ff79c6",
		Cyan:                "#8be9fd",
		White:               "#f8f8f2",
		BrightBlack:         "#6272a4",
		BrightRed:           "#ff6e6e",
		BrightGreen:         "#69ff94",
		BrightYellow:        "#ffffa5",
		BrightBlue:          "#d6acff",
		BrightMagenta:       "#ff92df",
		BrightCyan:          "#a4ffff",
		BrightWhite:         "#ffffff",
	},
	"One Dark": {
		Background:          "#282c34",
		Foreground:          "#abb2bf",
		Cursor:              "#528bff",
		CursorAccent:        "#282c34",
		SelectionBackground: "#3e4451",
		Black:               "#282c34",
		Red:                 "#e06c75",
		Green:               "#98c379",
		Yellow:              "#e5c07b",
		Blue:                "#61afef",
		Magenta:             "#c678dd",
		Cyan:                "#56b6c2",
		White:               "#abb2bf",
		BrightBlack:         "#5c6370",
		BrightRed:           "#e06c75",
		BrightGreen:         "#98c379",
		BrightYellow:        "#e5c07b",
		BrightBlue:          "#61afef",
		BrightMagenta:       "#c678dd",
		BrightCyan:          "#56b6c2",
		BrightWhite:         "#ffffff",
	},
	"Monokai": {
		Background:          "#272822",
		Foreground:          "#f8f8f2",
		Cursor:              "#f8f8f0",
		CursorAccent:        "#272822",
		SelectionBackground: "#49483e",
		Black:               "#272822",
		Red:                 "#f92672",
		Green:               "#a6e22e",
		Yellow:              "#f4bf75",
		Blue:                "#66d9ef",
		Magenta:             "#ae81ff",
		Cyan:                "#a1efe4",
		White:               "#f8f8f2",
		BrightBlack:         "#75715e",
		BrightRed:           "#f92672",
		BrightGreen:         "#a6e22e",
		BrightYellow:        "#f4bf75",
		BrightBlue:          "#66d9ef",
		BrightMagenta:       "#ae81ff",
		BrightCyan:          "#a1efe4",
		BrightWhite:         "#f9f8f5",
	},
	"Solarized Dark": {
		Background:          "#002b36",
		Foreground:          "#839496",
		Cursor:              "#93a1a1",
		CursorAccent:        "#002b36",
		SelectionBackground: "#073642",
		Black:               "#073642",
		Red:                 "#dc322f",
		Green:               "#859900",
		Yellow:              "#b58900",
		Blue:                "#268bd2",
		Magenta:             "#d33682",
		Cyan:                "#2aa198",
		White:               "#eee8d5",
		BrightBlack:         "#002b36",
		BrightRed:           "#cb4b16",
		BrightGreen:         "#586e75",
		BrightYellow:        "#657b83",
		BrightBlue:          "#839496",
		BrightMagenta:       "#6c71c4",
		BrightCyan:          "#93a1a1",
		BrightWhite:         "#fdf6e3",
	},
	"Campbell": {
		Background:          "#0C0C0C",
		Foreground:          "#CCCCCC",
		Cursor:              "#FFFFFF",
		CursorAccent:        "#0C0C0C",
		SelectionBackground: "#FFFFFF",
		Black:               "#0C0C0C",
		Red:                 "#C50F1F",
		Green:               "#13A10E",
		Yellow:              "#C19C00",
		Blue:                "#0037DA",
		Magenta:             "#881798",
		Cyan:                "#3A96DD",
		White:               "#CCCCCC",
		BrightBlack:         "#767676",
		BrightRed:           "#E74856",
		BrightGreen:         "#16C60C",
		BrightYellow:        "#F9F1A5",
		BrightBlue:          "#3B78FF",
		BrightMagenta:       "#B4009E",
		BrightCyan:          "#61D6D6",
		BrightWhite:         "#F2F2F2",
	},
	"Campbell PowerShell": {
		Background:          "#012456",
		Foreground:          "#CCCCCC",
		Cursor:              "#FFFFFF",
		CursorAccent:        "#012456",
		SelectionBackground: "#FFFFFF",
		Black:               "#0C0C0C",
		Red:                 "#C50F1F",
		Green:               "#13A10E",
		Yellow:              "#C19C00",
		Blue:                "#0037DA",
		Magenta:             "#881798",
		Cyan:                "#3A96DD",
		White:               "#CCCCCC",
		BrightBlack:         "#767676",
		BrightRed:           "#E74856",
		BrightGreen:         "#16C60C",
		BrightYellow:        "#F9F1A5",
		BrightBlue:          "#3B78FF",
		BrightMagenta:       "#B4009E",
		BrightCyan:          "#61D6D6",
		BrightWhite:         "#F2F2F2",
	},
}

// Builtin returns a builtin theme by name.
func Builtin(name string) (Theme, bool) {
	t, ok := builtins[name]
	return t, ok
}

// BuiltinNames returns the builtin theme names, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
