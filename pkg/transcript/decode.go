// Package transcript reads uploaded transcript files and turns them into
// UTF-8 text.
package transcript

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Decode converts raw file bytes to UTF-8.
//
// A byte order mark wins over everything else. Otherwise the charset
// parameter of contentType is used when present and known. Without one, valid
// UTF-8 is returned unchanged and anything else is read as Windows-1252, which
// is what most editors that do not write UTF-8 produce.
func Decode(data []byte, contentType string) (string, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return string(data[len(bomUTF8):]), nil
	case bytes.HasPrefix(data, bomUTF16LE), bytes.HasPrefix(data, bomUTF16BE):
		return decodeWith(data, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM))
	}

	if cs := charsetParam(contentType); cs != "" {
		if enc := lookupCharset(cs); enc != nil {
			return decodeWith(data, enc)
		}
		if !isUTF8Name(cs) {
			return "", fmt.Errorf("unknown charset: %s", cs)
		}
	}

	if utf8.Valid(data) {
		return string(data), nil
	}
	return decodeWith(data, charmap.Windows1252)
}

func decodeWith(data []byte, enc encoding.Encoding) (string, error) {
	// unicode.BOMOverride switches to the BOM's byte order for UTF-16 input
	// and strips the mark.
	dec := unicode.BOMOverride(enc.NewDecoder())
	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), dec))
	if err != nil {
		return "", fmt.Errorf("charset decoding failed: %w", err)
	}
	return string(out), nil
}

func charsetParam(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(params["charset"]))
}

func isUTF8Name(cs string) bool {
	return cs == "utf-8" || cs == "utf8" || cs == "us-ascii" || cs == "ascii"
}

func lookupCharset(cs string) encoding.Encoding {
	switch cs {
	case "iso-8859-1", "latin1", "iso_8859-1":
		return charmap.ISO8859_1
	case "iso-8859-2", "latin2":
		return charmap.ISO8859_2
	case "iso-8859-15", "latin9":
		return charmap.ISO8859_15
	case "windows-1252", "cp1252":
		return charmap.Windows1252
	case "windows-1251", "cp1251":
		return charmap.Windows1251
	case "koi8-r":
		return charmap.KOI8R
	case "utf-16", "utf-16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	case "utf-16be":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	case "gb2312", "gbk", "gb18030":
		return simplifiedchinese.GBK
	case "big5":
		return traditionalchinese.Big5
	case "euc-jp":
		return japanese.EUCJP
	case "iso-2022-jp":
		return japanese.ISO2022JP
	case "shift_jis", "shift-jis", "sjis":
		return japanese.ShiftJIS
	case "euc-kr":
		return korean.EUCKR
	}
	return nil
}
