package resources

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"regexp"

	"boorusync/internal/logger"
)

var (
	md5Pattern  = regexp.MustCompile(`^[0-9a-f]{32}$`)
	sha1Pattern = regexp.MustCompile(`^[0-9a-f]{40}$`)
)

// ValidMD5 reports whether value is a well-formed lowercase MD5 hex digest.
func ValidMD5(value string) bool {
	return md5Pattern.MatchString(value)
}

// ValidSHA1 reports whether value is a well-formed lowercase SHA1 hex digest.
func ValidSHA1(value string) bool {
	return sha1Pattern.MatchString(value)
}

// FileMD5 returns the lowercase hex MD5 digest of the file at path,
// streaming the contents rather than loading them whole.
func FileMD5(path string) (string, error) {
	return fileDigest(path, md5.New())
}

// FileSHA1 returns the lowercase hex SHA1 digest of the file at path.
func FileSHA1(path string) (string, error) {
	return fileDigest(path, sha1.New())
}

func fileDigest(path string, digest hash.Hash) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}
	defer file.Close()

	if _, err := io.Copy(digest, file); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// RefreshHashes recomputes md5 and sha1 from the post's local file. A
// pre-filled value that disagrees with the computed digest is logged as a
// warning and replaced; the computed value always wins. Posts without a
// local file are left untouched.
func (p *Post) RefreshHashes() error {
	if p.LocalFile == "" {
		return nil
	}

	computedMD5, err := FileMD5(p.LocalFile)
	if err != nil {
		return err
	}
	if p.MD5 != "" && p.MD5 != computedMD5 {
		logger.Warn("md5 mismatch between metadata and local file",
			"post", p.ID, "origin", p.Origin, "metadata_md5", p.MD5, "file_md5", computedMD5)
	}
	p.MD5 = computedMD5

	computedSHA1, err := FileSHA1(p.LocalFile)
	if err != nil {
		return err
	}
	if p.SHA1 != "" && p.SHA1 != computedSHA1 {
		logger.Warn("sha1 mismatch between metadata and local file",
			"post", p.ID, "origin", p.Origin, "metadata_sha1", p.SHA1, "file_sha1", computedSHA1)
	}
	p.SHA1 = computedSHA1

	return nil
}
