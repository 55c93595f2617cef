// Package banner prints the startup logo and status lines, adapted from
// the teacher's fatih/color-based banner and supplemented with the
// version/author/repo line original_source's main.rs prints on startup.
package banner

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// Version is the release tag printed in the startup banner.
const Version = "v0.1.0"

const art = `
██╗      ██████╗ ██╗  ██╗██╗██████╗  ██████╗  ██████╗ ██╗
██║     ██╔═══██╗██║ ██╔╝██║██╔══██╗██╔═══██╗██╔═══██╗██║
██║     ██║   ██║█████╔╝ ██║██████╔╝██║   ██║██║   ██║██║
██║     ██║   ██║██╔═██╗ ██║██╔═══╝ ██║   ██║██║   ██║██║
███████╗╚██████╔╝██║  ██╗██║██║     ╚██████╔╝╚██████╔╝███████╗
╚══════╝ ╚═════╝ ╚═╝  ╚═╝╚═╝╚═╝      ╚═════╝  ╚═════╝ ╚══════╝
`

// Print writes the logo plus version/author/repo line (spec §6 CLI
// surface, supplemented from original_source's main.rs LOGO block).
func Print() {
	c := color.New(color.FgCyan, color.Bold)
	c.Println(art)

	faint := color.New(color.FgHiBlack)
	faint.Println("A fast and reliable SOCKS5 proxy pool")
	faint.Printf("Version: %s\n", Version)
	faint.Println("Author:  mkaranja")
	color.New(color.FgHiBlack).Print("GitHub:  ")
	color.New(color.FgBlue, color.Underline).Println("https://github.com/mkaranja/lokipool")
	fmt.Println()
}

// PrintListenerStatus reports the bound address once the listener is up.
func PrintListenerStatus(bindAddr string) {
	color.Green("✓ proxy server started")
	fmt.Printf("   • listening:  %s (SOCKS5)\n", bindAddr)
	fmt.Println(strings.Repeat("-", 50))
}
