// filetype.go — классификация файлов по MIME-типу и расширению.
package model

import (
	"path/filepath"
	"strings"
)

// FileType — производная классификация файла.
type FileType string

const (
	TypeImage    FileType = "image"
	TypeVideo    FileType = "video"
	TypeAudio    FileType = "audio"
	TypeDocument FileType = "document"
	TypeArchive  FileType = "archive"
	TypeOther    FileType = "other"
)

// documentMimes — MIME-типы, классифицируемые как document.
var documentMimes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

// documentExts — расширения документов.
var documentExts = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".doc":  true,
	".docx": true,
	".rtf":  true,
}

// archiveExts — расширения архивов.
var archiveExts = map[string]bool{
	".zip": true,
	".rar": true,
	".7z":  true,
	".tar": true,
	".gz":  true,
}

// DetectFileType вычисляет классификацию файла по MIME-типу и имени.
// Порядок проверки фиксирован: префиксы image/video/audio →
// документные MIME-типы и расширения → архивные расширения → other.
// Вызывается один раз при загрузке, результат не пересчитывается.
func DetectFileType(mimeType, filename string) FileType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return TypeImage
	case strings.HasPrefix(mimeType, "video/"):
		return TypeVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return TypeAudio
	}

	ext := strings.ToLower(filepath.Ext(filename))

	if documentMimes[mimeType] || documentExts[ext] {
		return TypeDocument
	}
	if archiveExts[ext] {
		return TypeArchive
	}
	return TypeOther
}
