// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

const maxBaseLen = 100

var (
	unsafeRun = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	dashRun   = regexp.MustCompile(`-{2,}`)
	extRE     = regexp.MustCompile(`^\.[A-Za-z0-9]+$`)
)

// SanitizeFileName splits a client-supplied file name into a key-safe base
// and a lower-cased extension. Directory components are dropped. An invalid
// extension is discarded, and an empty base becomes "file".
func SanitizeFileName(name string) (base, ext string) {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" {
		name = ""
	}

	ext = path.Ext(name)
	base = strings.TrimSuffix(name, ext)
	if extRE.MatchString(ext) {
		ext = strings.ToLower(ext)
	} else {
		ext = ""
	}

	base = unsafeRun.ReplaceAllString(base, "-")
	base = dashRun.ReplaceAllString(base, "-")
	base = strings.TrimFunc(base, notAlnum)
	if len(base) > maxBaseLen {
		base = strings.TrimFunc(base[:maxBaseLen], notAlnum)
	}
	if base == "" {
		base = "file"
	}
	return base, ext
}

func notAlnum(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
}

// ObjectKey builds "{folder}/{id}-{sanitized base}{ext}".
func ObjectKey(folder, id, fileName string) (string, error) {
	switch folder {
	case FolderImages, FolderDownloads:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFolder, folder)
	}
	base, ext := SanitizeFileName(fileName)
	return folder + "/" + id + "-" + base + ext, nil
}
