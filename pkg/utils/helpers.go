package utils

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// IntPtr returns a pointer to an int
func IntPtr(i int) *int {
	return &i
}

// CalculateMD5 computes the MD5 hash of a byte slice.
func CalculateMD5(data []byte) string {
	hasher := md5.New()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

// CleanJSON 去掉模型输出外层的 ``` / ```json 代码围栏和首尾空白
func CleanJSON(input string) string {
	clean := strings.TrimSpace(input)
	clean = strings.TrimPrefix(clean, "\ufeff")

	if strings.HasPrefix(clean, "```json") {
		clean = strings.TrimPrefix(clean, "```json")
	} else if strings.HasPrefix(clean, "```") {
		clean = strings.TrimPrefix(clean, "```")
	}
	clean = strings.TrimLeft(clean, "\r\n")
	clean = strings.TrimSuffix(strings.TrimSpace(clean), "```")

	return strings.TrimSpace(clean)
}

// ReplaceExt 替换文件扩展名，name 没有扩展名时直接追加
func ReplaceExt(name, ext string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = "resume"
	}
	return base + ext
}
