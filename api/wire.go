package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/ruteri/exposure-keyserver-client/interfaces"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// ErrKeyDataLength is returned when a decoded TEK does not carry exactly 16 bytes of key data.
var ErrKeyDataLength = fmt.Errorf("%w: key data must be %d bytes", interfaces.ErrDecode, interfaces.KeyDataLength)

// Field numbers of the covidshield protocol messages.
const (
	tekKeyData                    protowire.Number = 1
	tekTransmissionRiskLevel      protowire.Number = 2
	tekRollingStartIntervalNumber protowire.Number = 3
	tekRollingPeriod              protowire.Number = 4

	uploadTimestamp protowire.Number = 1
	uploadKeys      protowire.Number = 2

	kcReqOneTimeCode  protowire.Number = 1
	kcReqAppPublicKey protowire.Number = 2

	kcRespError                protowire.Number = 1
	kcRespServerPublicKey      protowire.Number = 2
	kcRespTriesRemaining       protowire.Number = 3
	kcRespRemainingBanDuration protowire.Number = 4

	eurServerPublicKey protowire.Number = 1
	eurAppPublicKey    protowire.Number = 2
	eurNonce           protowire.Number = 3
	eurPayload         protowire.Number = 4

	eurespError protowire.Number = 1

	exportStartTimestamp protowire.Number = 1
	exportEndTimestamp   protowire.Number = 2
	exportRegion         protowire.Number = 3
	exportBatchNum       protowire.Number = 4
	exportBatchSize      protowire.Number = 5
	exportKeys           protowire.Number = 7
)

// fieldFunc handles one decoded field. It returns the number of bytes
// consumed from b, or a negative protowire error code.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) int

// consumeMessage walks the fields of a serialized message, delegating each to fn.
func consumeMessage(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", interfaces.ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		m := fn(num, typ, b)
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", interfaces.ErrDecode, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

// skipField consumes a field that is unknown or carries an unexpected wire
// type. Both are ignored, as the protobuf runtime does.
func skipField(num protowire.Number, typ protowire.Type, b []byte) int {
	return protowire.ConsumeFieldValue(num, typ, b)
}

func consumeBytesInto(dst *[]byte, num protowire.Number, typ protowire.Type, b []byte) int {
	if typ != protowire.BytesType {
		return skipField(num, typ, b)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n
	}
	*dst = append([]byte(nil), v...)
	return n
}

func consumeUint64Into(dst *uint64, num protowire.Number, typ protowire.Type, b []byte) int {
	if typ != protowire.VarintType {
		return skipField(num, typ, b)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n
	}
	*dst = v
	return n
}

func consumeInt32Into(dst *int32, num protowire.Number, typ protowire.Type, b []byte) int {
	if typ != protowire.VarintType {
		return skipField(num, typ, b)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n
	}
	*dst = int32(v)
	return n
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// MarshalTemporaryExposureKey serializes a single key.
func MarshalTemporaryExposureKey(k interfaces.TemporaryExposureKey) []byte {
	var b []byte
	b = appendBytes(b, tekKeyData, k.KeyData[:])
	b = appendInt32(b, tekTransmissionRiskLevel, k.TransmissionRiskLevel)
	b = appendInt32(b, tekRollingStartIntervalNumber, k.RollingStartIntervalNumber)
	b = appendInt32(b, tekRollingPeriod, k.RollingPeriod)
	return b
}

// UnmarshalTemporaryExposureKey parses a single key.
func UnmarshalTemporaryExposureKey(b []byte) (interfaces.TemporaryExposureKey, error) {
	var (
		key     interfaces.TemporaryExposureKey
		keyData []byte
	)

	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case tekKeyData:
			return consumeBytesInto(&keyData, num, typ, b)
		case tekTransmissionRiskLevel:
			return consumeInt32Into(&key.TransmissionRiskLevel, num, typ, b)
		case tekRollingStartIntervalNumber:
			return consumeInt32Into(&key.RollingStartIntervalNumber, num, typ, b)
		case tekRollingPeriod:
			return consumeInt32Into(&key.RollingPeriod, num, typ, b)
		default:
			return skipField(num, typ, b)
		}
	})
	if err != nil {
		return key, err
	}

	if len(keyData) != interfaces.KeyDataLength {
		return key, ErrKeyDataLength
	}
	copy(key.KeyData[:], keyData)
	return key, nil
}

// MarshalUpload serializes the plaintext payload of an upload.
func MarshalUpload(u *interfaces.Upload) ([]byte, error) {
	ts, err := proto.Marshal(timestamppb.New(u.Timestamp))
	if err != nil {
		return nil, fmt.Errorf("could not marshal upload timestamp: %w", err)
	}

	var b []byte
	b = appendBytes(b, uploadTimestamp, ts)
	for _, k := range u.Keys {
		b = appendBytes(b, uploadKeys, MarshalTemporaryExposureKey(k))
	}
	return b, nil
}

// UnmarshalUpload parses the plaintext payload of an upload.
func UnmarshalUpload(b []byte) (*interfaces.Upload, error) {
	var (
		upload  interfaces.Upload
		rawTS   []byte
		rawKeys [][]byte
	)

	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case uploadTimestamp:
			return consumeBytesInto(&rawTS, num, typ, b)
		case uploadKeys:
			var raw []byte
			n := consumeBytesInto(&raw, num, typ, b)
			if typ == protowire.BytesType && n >= 0 {
				rawKeys = append(rawKeys, raw)
			}
			return n
		default:
			return skipField(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}

	if rawTS != nil {
		var ts timestamppb.Timestamp
		if err := proto.Unmarshal(rawTS, &ts); err != nil {
			return nil, fmt.Errorf("%w: timestamp: %v", interfaces.ErrDecode, err)
		}
		upload.Timestamp = ts.AsTime()
	}

	for _, raw := range rawKeys {
		key, err := UnmarshalTemporaryExposureKey(raw)
		if err != nil {
			return nil, err
		}
		upload.Keys = append(upload.Keys, key)
	}

	return &upload, nil
}

// Marshal serializes a KeyClaimRequest.
func (r *KeyClaimRequest) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, kcReqOneTimeCode, protowire.BytesType)
	b = protowire.AppendString(b, r.OneTimeCode)
	b = appendBytes(b, kcReqAppPublicKey, r.AppPublicKey)
	return b
}

// UnmarshalKeyClaimRequest parses a KeyClaimRequest.
func UnmarshalKeyClaimRequest(b []byte) (*KeyClaimRequest, error) {
	var (
		req  KeyClaimRequest
		code []byte
	)
	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case kcReqOneTimeCode:
			return consumeBytesInto(&code, num, typ, b)
		case kcReqAppPublicKey:
			return consumeBytesInto(&req.AppPublicKey, num, typ, b)
		default:
			return skipField(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}
	req.OneTimeCode = string(code)
	return &req, nil
}

// Marshal serializes a KeyClaimResponse.
func (r *KeyClaimResponse) Marshal() ([]byte, error) {
	var b []byte
	if r.Error != KeyClaimNone {
		b = appendInt32(b, kcRespError, int32(r.Error))
	}
	if len(r.ServerPublicKey) > 0 {
		b = appendBytes(b, kcRespServerPublicKey, r.ServerPublicKey)
	}
	b = protowire.AppendTag(b, kcRespTriesRemaining, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.TriesRemaining))
	if r.RemainingBanDuration > 0 {
		d, err := proto.Marshal(durationpb.New(r.RemainingBanDuration))
		if err != nil {
			return nil, fmt.Errorf("could not marshal ban duration: %w", err)
		}
		b = appendBytes(b, kcRespRemainingBanDuration, d)
	}
	return b, nil
}

// UnmarshalKeyClaimResponse parses a KeyClaimResponse.
func UnmarshalKeyClaimResponse(b []byte) (*KeyClaimResponse, error) {
	var (
		resp   KeyClaimResponse
		code   int32
		tries  uint64
		rawBan []byte
	)
	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case kcRespError:
			return consumeInt32Into(&code, num, typ, b)
		case kcRespServerPublicKey:
			return consumeBytesInto(&resp.ServerPublicKey, num, typ, b)
		case kcRespTriesRemaining:
			return consumeUint64Into(&tries, num, typ, b)
		case kcRespRemainingBanDuration:
			return consumeBytesInto(&rawBan, num, typ, b)
		default:
			return skipField(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}

	resp.Error = KeyClaimErrorCode(code)
	resp.TriesRemaining = uint32(tries)

	if rawBan != nil {
		var d durationpb.Duration
		if err := proto.Unmarshal(rawBan, &d); err != nil {
			return nil, fmt.Errorf("%w: ban duration: %v", interfaces.ErrDecode, err)
		}
		resp.RemainingBanDuration = d.AsDuration()
	}
	return &resp, nil
}

// Marshal serializes an EncryptedUploadRequest.
func (r *EncryptedUploadRequest) Marshal() []byte {
	var b []byte
	b = appendBytes(b, eurServerPublicKey, r.ServerPublicKey)
	b = appendBytes(b, eurAppPublicKey, r.AppPublicKey)
	b = appendBytes(b, eurNonce, r.Nonce)
	b = appendBytes(b, eurPayload, r.Payload)
	return b
}

// UnmarshalEncryptedUploadRequest parses an EncryptedUploadRequest.
func UnmarshalEncryptedUploadRequest(b []byte) (*EncryptedUploadRequest, error) {
	var req EncryptedUploadRequest
	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case eurServerPublicKey:
			return consumeBytesInto(&req.ServerPublicKey, num, typ, b)
		case eurAppPublicKey:
			return consumeBytesInto(&req.AppPublicKey, num, typ, b)
		case eurNonce:
			return consumeBytesInto(&req.Nonce, num, typ, b)
		case eurPayload:
			return consumeBytesInto(&req.Payload, num, typ, b)
		default:
			return skipField(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Marshal serializes an EncryptedUploadResponse.
func (r *EncryptedUploadResponse) Marshal() []byte {
	return appendInt32(nil, eurespError, int32(r.Error))
}

// UnmarshalEncryptedUploadResponse parses an EncryptedUploadResponse.
func UnmarshalEncryptedUploadResponse(b []byte) (*EncryptedUploadResponse, error) {
	var (
		resp EncryptedUploadResponse
		code int32
	)
	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case eurespError:
			return consumeInt32Into(&code, num, typ, b)
		default:
			return skipField(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}
	resp.Error = UploadErrorCode(code)
	return &resp, nil
}

// MarshalKeyExport serializes a key export, header included.
func MarshalKeyExport(e *KeyExport) []byte {
	b := []byte(ExportHeader)
	b = protowire.AppendTag(b, exportStartTimestamp, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, uint64(e.StartTimestamp.Unix()))
	b = protowire.AppendTag(b, exportEndTimestamp, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, uint64(e.EndTimestamp.Unix()))
	b = protowire.AppendTag(b, exportRegion, protowire.BytesType)
	b = protowire.AppendString(b, e.Region)
	b = appendInt32(b, exportBatchNum, e.BatchNum)
	b = appendInt32(b, exportBatchSize, e.BatchSize)
	for _, k := range e.Keys {
		b = appendBytes(b, exportKeys, MarshalTemporaryExposureKey(k))
	}
	return b
}

// UnmarshalKeyExport parses export.bin, header included.
func UnmarshalKeyExport(b []byte) (*KeyExport, error) {
	if !strings.HasPrefix(string(b), ExportHeader) {
		return nil, fmt.Errorf("%w: missing export header", interfaces.ErrDecode)
	}
	b = b[len(ExportHeader):]

	var (
		export  KeyExport
		region  []byte
		rawKeys [][]byte
	)
	consumeFixed := func(dst *time.Time, num protowire.Number, typ protowire.Type, b []byte) int {
		if typ != protowire.Fixed64Type {
			return skipField(num, typ, b)
		}
		ts, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return n
		}
		*dst = time.Unix(int64(ts), 0).UTC()
		return n
	}

	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case exportStartTimestamp:
			return consumeFixed(&export.StartTimestamp, num, typ, b)
		case exportEndTimestamp:
			return consumeFixed(&export.EndTimestamp, num, typ, b)
		case exportRegion:
			return consumeBytesInto(&region, num, typ, b)
		case exportBatchNum:
			return consumeInt32Into(&export.BatchNum, num, typ, b)
		case exportBatchSize:
			return consumeInt32Into(&export.BatchSize, num, typ, b)
		case exportKeys:
			var raw []byte
			n := consumeBytesInto(&raw, num, typ, b)
			if typ == protowire.BytesType && n >= 0 {
				rawKeys = append(rawKeys, raw)
			}
			return n
		default:
			return skipField(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}

	export.Region = string(region)
	for _, raw := range rawKeys {
		key, err := UnmarshalTemporaryExposureKey(raw)
		if err != nil {
			return nil, err
		}
		export.Keys = append(export.Keys, key)
	}
	return &export, nil
}
