//go:build js && wasm

// Browser helpers for reading bridge traffic captures.
package main

import (
	"encoding/hex"
	"syscall/js"

	"sdspi/protocol"
)

func main() {
	js.Global().Set("sdspiWasm", js.ValueOf(map[string]any{
		"encodeVLQ":    js.FuncOf(encodeVLQWrapper),
		"decodeVLQ":    js.FuncOf(decodeVLQWrapper),
		"crc16":        js.FuncOf(crc16Wrapper),
		"encodeFrame":  js.FuncOf(encodeFrameWrapper),
		"decodeFrames": js.FuncOf(decodeFramesWrapper),
		"version":      protocol.Version,
	}))

	// Keep the program running
	select {}
}

// encodeVLQWrapper encodes a signed integer.
// Args: value (int32)
// Returns: hex string
func encodeVLQWrapper(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return js.ValueOf("error: missing value argument")
	}
	return js.ValueOf(hex.EncodeToString(protocol.AppendVLQ(nil, int32(args[0].Int()))))
}

// decodeVLQWrapper decodes one value from a hex string.
// Returns: {value, consumed, error}
func decodeVLQWrapper(this js.Value, args []js.Value) any {
	data, errMsg := hexArg(args)
	if errMsg != "" {
		return makeResult(0, 0, errMsg)
	}
	value, consumed, err := protocol.DecodeVLQ(data)
	if err != nil {
		return makeResult(0, 0, err.Error())
	}
	return makeResult(int(value), consumed, "")
}

func crc16Wrapper(this js.Value, args []js.Value) any {
	data, errMsg := hexArg(args)
	if errMsg != "" {
		return js.ValueOf(0)
	}
	return js.ValueOf(int(protocol.CRC16(data)))
}

// encodeFrameWrapper builds a frame.
// Args: seq (number), payloadHex (string)
// Returns: hex string of the frame
func encodeFrameWrapper(this js.Value, args []js.Value) any {
	if len(args) < 2 {
		return js.ValueOf("error: missing arguments")
	}
	payload, err := hex.DecodeString(args[1].String())
	if err != nil {
		return js.ValueOf("error: invalid payload hex: " + err.Error())
	}
	frame, err := protocol.AppendFrame(nil, byte(args[0].Int()), payload)
	if err != nil {
		return js.ValueOf("error: " + err.Error())
	}
	return js.ValueOf(hex.EncodeToString(frame))
}

// decodeFramesWrapper decodes a capture.
// Args: hexString (string)
// Returns: {frames: [{seq, ack, id, args, payload}], resyncs, error}
func decodeFramesWrapper(this js.Value, args []js.Value) any {
	data, errMsg := hexArg(args)
	result := map[string]any{"frames": []any{}, "resyncs": 0}
	if errMsg != "" {
		result["error"] = errMsg
		return js.ValueOf(result)
	}

	frames, resyncs := protocol.Inspect(data)
	list := make([]any, len(frames))
	for i, f := range frames {
		fargs := make([]any, len(f.Args))
		for j, a := range f.Args {
			fargs[j] = int(a)
		}
		list[i] = map[string]any{
			"seq":     int(f.Seq),
			"ack":     f.Ack,
			"id":      int(f.ID),
			"args":    fargs,
			"payload": hex.EncodeToString(f.Payload),
		}
	}
	result["frames"] = list
	result["resyncs"] = resyncs
	return js.ValueOf(result)
}

func hexArg(args []js.Value) ([]byte, string) {
	if len(args) < 1 {
		return nil, "missing hex string argument"
	}
	data, err := hex.DecodeString(args[0].String())
	if err != nil {
		return nil, "invalid hex string: " + err.Error()
	}
	return data, ""
}

func makeResult(value int, consumed int, errMsg string) js.Value {
	result := map[string]any{"value": value, "consumed": consumed}
	if errMsg != "" {
		result["error"] = errMsg
	}
	return js.ValueOf(result)
}
