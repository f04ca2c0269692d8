package apdu

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ACR122U pseudo-APDU commands, hex encoded for use with SendRawCommand.
const (
	GetFirmware            = "FF00480000"
	GetUID                 = "FFCA000000"
	LoadAuthenticationKeys = "FF82000006FFFFFFFFFFFF"
	Authenticate           = "FF860000050100006000"
	ReadBinary             = "FFB0000010"
	UpdateBinary           = "FFD6000010"
)

// Commands is the published catalog keyed by command name.
var Commands = map[string]string{
	"GET_FIRMWARE":             GetFirmware,
	"GET_UID":                  GetUID,
	"LOAD_AUTHENTICATION_KEYS": LoadAuthenticationKeys,
	"AUTHENTICATE":             Authenticate,
	"READ_BINARY":              ReadBinary,
	"UPDATE_BINARY":            UpdateBinary,
}

const (
	SW1Success  = 0x90
	SW2Success  = 0x00
	SW1MoreData = 0x61

	CLAPCSC       = 0xFF
	INSReadBinary = 0xB0
	INSUpdateBin  = 0xD6

	// BlockSize is the number of bytes moved by a single READ/UPDATE BINARY.
	BlockSize = 16
)

var (
	ErrEmptyCommand  = errors.New("empty apdu command")
	ErrShortResponse = errors.New("apdu response too short")
)

// Decode converts a hex command string to bytes. Whitespace and ':'
// separators are ignored.
func Decode(cmd string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':':
			return -1
		}
		return r
	}, cmd)

	if cleaned == "" {
		return nil, ErrEmptyCommand
	}

	bs, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid apdu hex %q: %w", cmd, err)
	}

	return bs, nil
}

// Encode returns the uppercase hex form of a command or response.
func Encode(bs []byte) string {
	return strings.ToUpper(hex.EncodeToString(bs))
}

type Response struct {
	Data []byte
	SW1  byte
	SW2  byte
}

func (r Response) IsSuccess() bool {
	return r.SW1 == SW1Success && r.SW2 == SW2Success
}

func (r Response) StatusWord() uint16 {
	return uint16(r.SW1)<<8 | uint16(r.SW2)
}

// Err returns nil for success and "more data" status words.
func (r Response) Err() error {
	if r.IsSuccess() || r.SW1 == SW1MoreData {
		return nil
	}
	return fmt.Errorf("apdu status %02X%02X", r.SW1, r.SW2)
}

func ParseResponse(raw []byte) (Response, error) {
	if len(raw) < 2 {
		return Response{}, ErrShortResponse
	}
	return Response{
		Data: raw[:len(raw)-2],
		SW1:  raw[len(raw)-2],
		SW2:  raw[len(raw)-1],
	}, nil
}

// ReadBinaryBlock builds a READ BINARY for n bytes starting at block.
func ReadBinaryBlock(block byte, n byte) []byte {
	return []byte{CLAPCSC, INSReadBinary, 0x00, block, n}
}

// UpdateBinaryBlock builds an UPDATE BINARY writing data at block. Data is
// zero padded to BlockSize.
func UpdateBinaryBlock(block byte, data []byte) ([]byte, error) {
	if len(data) > BlockSize {
		return nil, fmt.Errorf("block data too long: %d > %d", len(data), BlockSize)
	}

	cmd := []byte{CLAPCSC, INSUpdateBin, 0x00, block, BlockSize}
	padded := make([]byte, BlockSize)
	copy(padded, data)

	return append(cmd, padded...), nil
}

// AuthenticateBlock builds a general authenticate for block using key A
// loaded into slot 0, the same form as the Authenticate constant.
func AuthenticateBlock(block byte) []byte {
	return []byte{CLAPCSC, 0x86, 0x00, 0x00, 0x05, 0x01, 0x00, block, 0x60, 0x00}
}

// Chunk splits a payload into BlockSize pieces.
func Chunk(data []byte) [][]byte {
	var chunks [][]byte
	for len(data) > BlockSize {
		chunks = append(chunks, data[:BlockSize])
		data = data[BlockSize:]
	}
	if len(data) > 0 {
		chunks = append(chunks, data)
	}
	return chunks
}
