package ui

import "strings"

const (
	reset      = "\033[0m"
	bold       = "\033[1m"
	dimGray    = "\033[38;5;244m"
	lockRed    = "\033[38;5;196m"
	emberRed   = "\033[38;5;202m"
	amber      = "\033[38;5;214m"
	signalGold = "\033[38;5;220m"
	steelBlue  = "\033[38;5;67m"
	coolTeal   = "\033[38;5;37m"
)

// Banner renders a colored csprof wordmark. The gradient runs from hot to
// cool, the way contention drains from a monitor.
func Banner() string {
	var b strings.Builder

	letters := [][]string{
		{" ██████╗", "██╔════╝", "██║     ", "██║     ", "╚██████╗", " ╚═════╝"},
		{"███████╗", "██╔════╝", "███████╗", "╚════██║", "███████║", "╚══════╝"},
		{"██████╗ ", "██╔══██╗", "██████╔╝", "██╔═══╝ ", "██║     ", "╚═╝     "},
		{"██████╗ ", "██╔══██╗", "██████╔╝", "██╔══██╗", "██║  ██║", "╚═╝  ╚═╝"},
		{" ██████╗ ", "██╔═══██╗", "██║   ██║", "██║   ██║", "╚██████╔╝", " ╚═════╝ "},
		{"███████╗", "██╔════╝", "█████╗  ", "██╔══╝  ", "██║     ", "╚═╝     "},
	}
	gradient := []string{lockRed, emberRed, amber, signalGold, steelBlue, coolTeal}
	rows := make([]string, len(letters[0]))
	for i, letter := range letters {
		color := gradient[i%len(gradient)]
		for row := 0; row < len(letter); row++ {
			rows[row] += color + letter[row] + " "
		}
	}
	for _, line := range rows {
		b.WriteString(bold + line + reset + "\n")
	}

	b.WriteString("\n")
	b.WriteString(bold + lockRed + "csprof" + reset + "  •  " + dimGray + "contention profiler" + reset + "\n\n")

	return b.String()
}
