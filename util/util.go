// Package util contains small helpers shared across the pusher
// services.
package util

import (
	"fmt"
	"os"
	"os/user"
	"regexp"
	"strings"
)

// S3UriPrefix is the scheme prefix for package content and
// manifest locators.
const S3UriPrefix = "s3://"

// LooksLikeURL returns true if url looks like a URL.
func LooksLikeURL(url string) bool {
	reUrl := regexp.MustCompile(`^(https?:\/\/)?([\da-z\.-]+)\.([a-z\.]{2,6})([\/\w \.-]*)*\/?$`)
	return reUrl.Match([]byte(url))
}

// LooksLikeUUID returns true if uuid looks like a UUID. Commit
// track ids are UUIDs.
func LooksLikeUUID(uuid string) bool {
	reUUID := regexp.MustCompile(`(?i)^([a-f\d]{8}(-[a-f\d]{4}){3}-[a-f\d]{12}?)$`)
	return reUUID.Match([]byte(uuid))
}

// LooksLikeS3Uri returns true if the locator has the s3:// scheme.
func LooksLikeS3Uri(locator string) bool {
	return strings.HasPrefix(locator, S3UriPrefix)
}

// BucketNameAndKey returns the bucket name and key of an s3://
// locator. Returns an error if the locator has no scheme or no key.
func BucketNameAndKey(locator string) (string, string, error) {
	if !LooksLikeS3Uri(locator) {
		return "", "", fmt.Errorf("Locator '%s' does not start with %s", locator, S3UriPrefix)
	}
	relativeUri := strings.Replace(locator, S3UriPrefix, "", 1)
	parts := strings.SplitN(relativeUri, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("Locator '%s' is missing a bucket or key", locator)
	}
	return parts[0], parts[1], nil
}

// Min returns the minimum of x or y.
func Min(x, y int) int {
	if x < y {
		return x
	}
	return y
}

// CleanString trims leading and trailing whitespace, and strips
// matching leading and trailing quotes.
func CleanString(str string) string {
	cleanStr := strings.TrimSpace(str)
	if strings.HasPrefix(cleanStr, "'") && strings.HasSuffix(cleanStr, "'") ||
		strings.HasPrefix(cleanStr, "\"") && strings.HasSuffix(cleanStr, "\"") {
		return cleanStr[1 : len(cleanStr)-1]
	}
	return cleanStr
}

// ExpandTilde expands the tilde in a directory path to the current
// user's home directory.
func ExpandTilde(filePath string) (string, error) {
	if strings.Index(filePath, "~") < 0 {
		return filePath, nil
	}
	usr, err := user.Current()
	if err != nil {
		return "", err
	}
	homeDir := usr.HomeDir + "/"
	expandedDir := strings.Replace(filePath, "~/", homeDir, 1)
	return expandedDir, nil
}

// FileExists returns true if the file at path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	if err != nil && os.IsNotExist(err) {
		return false
	}
	return true
}

// StringListContains returns true if the list of strings contains item.
func StringListContains(list []string, item string) bool {
	for i := range list {
		if list[i] == item {
			return true
		}
	}
	return false
}
