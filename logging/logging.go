// Package logging provides the logrus-based logging infrastructure shared
// by the element store, the spatial materializer, and the query facade.
// Error-level output goes to stderr, everything else to stdout, so
// container log collectors can split the streams without parsing fields.
package logging

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes logrus output to stderr for error-level entries and
// stdout for everything else, based on the formatted line.
type OutputSplitter struct{}

func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the package-level logger every component logs through unless it
// needs its own fields (see ServiceLogger in logger.go).
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
