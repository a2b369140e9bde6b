package gen

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"lukechampine.com/blake3"
)

// The Windows command line is limited to 8192 characters, leave room for
// the program path
const maxCommandLength = 6000

var responseQuoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// responseFileArgs replaces args with a single @file argument on Windows
// when they would not fit on a command line
func responseFileArgs(dir string, args []string) ([]string, error) {
	if runtime.GOOS != "windows" {
		return args, nil
	}
	return shortenArgs(dir, args)
}

// shortenArgs writes args into dir/longcmd-<hash> when their combined length
// reaches maxCommandLength. The file is content addressed, an existing one
// is reused.
func shortenArgs(dir string, args []string) ([]string, error) {
	n := 0
	for _, a := range args {
		n += len(a) + 1
	}
	if n < maxCommandLength {
		return args, nil
	}

	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = `"` + responseQuoter.Replace(a) + `"`
	}
	data := strings.Join(quoted, " ")

	sum := blake3.Sum256([]byte(data))
	path := filepath.Join(dir, "longcmd-"+hex.EncodeToString(sum[:16]))
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			return nil, err
		}
	}
	return []string{"@" + path}, nil
}
