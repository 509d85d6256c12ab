package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"time"

	"resumind-go/internal/constants"
	"resumind-go/internal/logger"
	"resumind-go/internal/processor"
	"resumind-go/internal/types"
	"resumind-go/pkg/utils"

	"github.com/gen2brain/go-fitz"
)

// ErrNoPages PDF 没有可渲染的页面
var ErrNoPages = errors.New("PDF没有页面")

// FitzImageConverter 使用 MuPDF 将 PDF 首页渲染为 PNG
type FitzImageConverter struct {
	scale float64
}

var _ processor.ImageConverter = (*FitzImageConverter)(nil)

// NewFitzImageConverter scale 为相对 72 DPI 的倍数，非正数时使用默认值
func NewFitzImageConverter(scale float64) *FitzImageConverter {
	if scale <= 0 {
		scale = constants.DefaultRenderScale
	}
	return &FitzImageConverter{scale: scale}
}

// Convert 只渲染第一页，输出文件名为原文件名替换扩展名为 .png
func (c *FitzImageConverter) Convert(ctx context.Context, file *types.CandidateFile) (*types.ConversionResult, error) {
	if file == nil || len(file.Data) == 0 {
		return nil, fmt.Errorf("PDF内容为空")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	doc, err := fitz.NewFromMemory(file.Data)
	if err != nil {
		return nil, fmt.Errorf("打开PDF失败: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, ErrNoPages
	}

	img, err := doc.ImageDPI(0, 72*c.scale)
	if err != nil {
		return nil, fmt.Errorf("渲染PDF首页失败: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("编码PNG失败: %w", err)
	}

	bounds := img.Bounds()
	logger.Debug().
		Str("file", file.Name).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Int("png_bytes", buf.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("PDF首页渲染完成")

	return &types.ConversionResult{File: &types.CandidateFile{
		Name:     utils.ReplaceExt(file.Name, ".png"),
		Size:     int64(buf.Len()),
		MIMEType: constants.MIMETypePNG,
		Data:     buf.Bytes(),
	}}, nil
}
