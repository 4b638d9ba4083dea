package registry

import (
	"path/filepath"
	"strings"
)

var categoryByExt = map[string]string{
	".mp4": "Video", ".mkv": "Video", ".avi": "Video", ".mov": "Video", ".webm": "Video", ".flv": "Video", ".wmv": "Video", ".m4v": "Video",
	".mp3": "Audio", ".wav": "Audio", ".flac": "Audio", ".aac": "Audio", ".ogg": "Audio", ".m4a": "Audio", ".wma": "Audio",
	".zip": "Compressed", ".rar": "Compressed", ".7z": "Compressed", ".tar": "Compressed", ".gz": "Compressed", ".bz2": "Compressed", ".iso": "Compressed",
	".exe": "Software", ".msi": "Software", ".app": "Software", ".dmg": "Software", ".deb": "Software", ".rpm": "Software",
	".pdf": "Documents", ".doc": "Documents", ".docx": "Documents", ".xls": "Documents", ".xlsx": "Documents",
	".ppt": "Documents", ".pptx": "Documents", ".txt": "Documents", ".rtf": "Documents", ".epub": "Documents",
}

// CategoryForFilename derives a download's category bucket from its
// filename extension, defaulting to "Other" for anything unrecognized.
func CategoryForFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if cat, ok := categoryByExt[ext]; ok {
		return cat
	}
	return "Other"
}
