//go:build !unix

package handoff

func replaceProcess(path string, argv, env []string) error {
	return ErrExecUnsupported
}
