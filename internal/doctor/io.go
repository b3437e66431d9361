package doctor

import (
	"encoding/json"
	"io"
	"os/exec"
)

func jsonEncode(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func jsonDecode(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

func execLookPath(name string) (string, error) {
	return exec.LookPath(name)
}
