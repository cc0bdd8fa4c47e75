package oracle

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
)

// LoggingWriter wraps a logger behind an io.Writer, so the pre-image
// server's std-out and std-err land in the harness log stream.
type LoggingWriter struct {
	Name string
	Log  log.Logger
}

func logAsText(b string) bool {
	for _, c := range b {
		switch {
		case c == '\n' || c == '\t':
			// fine in log output
		case c < 0x20 || c >= 0x7F:
			return false
		}
	}
	return true
}

func (lw *LoggingWriter) Write(b []byte) (int, error) {
	t := string(b)
	if logAsText(t) {
		lw.Log.Info("", "src", lw.Name, "text", t)
	} else {
		lw.Log.Info("", "src", lw.Name, "data", hexutil.Bytes(b))
	}
	return len(b), nil
}
