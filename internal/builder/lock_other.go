//go:build !unix && !windows

package builder

import "os"

func tryLock(*os.File) error  { return nil }
func waitLock(*os.File) error { return nil }
func unlock(*os.File) error   { return nil }
