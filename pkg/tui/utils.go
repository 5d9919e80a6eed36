package tui

import (
	"os/exec"
	"runtime"
	"strings"

	"walletdash/pkg/utils"

	"github.com/skip2/go-qrcode"
)

// openBrowser opens the specified URL in the default browser.
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start"}
	case "darwin":
		cmd = "open"
	default: // "linux", "freebsd", "openbsd", "netbsd"
		cmd = "xdg-open"
	}
	args = append(args, url)
	return exec.Command(cmd, args...).Start()
}

// renderQR draws the EIP-681 URI for address as half-block characters, two
// modules per text row. Light modules are drawn so the code scans on dark
// terminals.
func renderQR(address string, chainID int64) (string, error) {
	qr, err := qrcode.New(utils.PaymentURI(address, chainID), qrcode.Low)
	if err != nil {
		return "", err
	}
	bitmap := qr.Bitmap()

	var b strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		for x := range bitmap[y] {
			top := !bitmap[y][x]
			bottom := y+1 >= len(bitmap) || !bitmap[y+1][x]
			switch {
			case top && bottom:
				b.WriteRune('█')
			case top:
				b.WriteRune('▀')
			case bottom:
				b.WriteRune('▄')
			default:
				b.WriteRune(' ')
			}
		}
		if y+2 < len(bitmap) {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}
