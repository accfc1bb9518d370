package tfevents

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from TensorFlow's event.proto and summary.proto.
// Only the subset this integration reads and writes is listed.
const (
	eventFieldWallTime    = 1 // double
	eventFieldStep        = 2 // int64
	eventFieldFileVersion = 3 // string
	eventFieldSummary     = 5 // Summary

	summaryFieldValue = 1 // repeated Summary.Value

	valueFieldTag         = 1 // string
	valueFieldSimpleValue = 2 // float
	valueFieldImage       = 4 // Summary.Image
	valueFieldHisto       = 5 // HistogramProto
	valueFieldTensor      = 8 // TensorProto
	valueFieldMetadata    = 9 // SummaryMetadata

	imageFieldHeight  = 1 // int32
	imageFieldWidth   = 2 // int32
	imageFieldEncoded = 4 // bytes

	histoFieldMin         = 1 // double
	histoFieldMax         = 2 // double
	histoFieldNum         = 3 // double
	histoFieldSum         = 4 // double
	histoFieldSumSquares  = 5 // double
	histoFieldBucketLimit = 6 // repeated double, packed
	histoFieldBucket      = 7 // repeated double, packed

	tensorFieldDtype     = 1 // enum; DT_STRING = 7
	tensorFieldStringVal = 8 // repeated bytes

	metadataFieldPluginData = 1 // SummaryMetadata.PluginData
	pluginDataFieldName     = 1 // string

	dtypeString = 7
)

// Event is the decoded form of a tfevents record.
//
// Exactly one of FileVersion and Summary is meaningful; files start
// with a file-version event and continue with summary events.
type Event struct {
	WallTime    float64
	Step        int64
	FileVersion string
	Summary     []SummaryValue
}

// SummaryValue is one tagged value inside an event's summary.
type SummaryValue struct {
	Tag string

	// SimpleValue is set for scalar summaries.
	SimpleValue *float64

	// Image is set for image summaries.
	Image *ImageValue

	// Histogram is set for histogram summaries.
	Histogram *HistogramValue

	// Text is set for text summaries (tensor with the "text" plugin).
	Text *string
}

// ImageValue is an encoded image inside a summary.
type ImageValue struct {
	Height  int32
	Width   int32
	Encoded []byte
}

// HistogramValue mirrors TensorFlow's HistogramProto.
type HistogramValue struct {
	Min         float64
	Max         float64
	Num         float64
	Sum         float64
	SumSquares  float64
	BucketLimit []float64
	Bucket      []float64
}

// Marshal encodes the event as an Event proto message.
func (e *Event) Marshal() []byte {
	var b []byte

	if e.WallTime != 0 {
		b = protowire.AppendTag(b, eventFieldWallTime, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(e.WallTime))
	}
	if e.Step != 0 {
		b = protowire.AppendTag(b, eventFieldStep, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Step))
	}
	if e.FileVersion != "" {
		b = protowire.AppendTag(b, eventFieldFileVersion, protowire.BytesType)
		b = protowire.AppendString(b, e.FileVersion)
	}
	if len(e.Summary) > 0 {
		var summary []byte
		for i := range e.Summary {
			summary = protowire.AppendTag(
				summary, summaryFieldValue, protowire.BytesType)
			summary = protowire.AppendBytes(summary, e.Summary[i].marshal())
		}
		b = protowire.AppendTag(b, eventFieldSummary, protowire.BytesType)
		b = protowire.AppendBytes(b, summary)
	}

	return b
}

func (v *SummaryValue) marshal() []byte {
	var b []byte

	b = protowire.AppendTag(b, valueFieldTag, protowire.BytesType)
	b = protowire.AppendString(b, v.Tag)

	switch {
	case v.SimpleValue != nil:
		b = protowire.AppendTag(b, valueFieldSimpleValue, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(float32(*v.SimpleValue)))

	case v.Image != nil:
		var img []byte
		img = protowire.AppendTag(img, imageFieldHeight, protowire.VarintType)
		img = protowire.AppendVarint(img, uint64(v.Image.Height))
		img = protowire.AppendTag(img, imageFieldWidth, protowire.VarintType)
		img = protowire.AppendVarint(img, uint64(v.Image.Width))
		img = protowire.AppendTag(img, imageFieldEncoded, protowire.BytesType)
		img = protowire.AppendBytes(img, v.Image.Encoded)

		b = protowire.AppendTag(b, valueFieldImage, protowire.BytesType)
		b = protowire.AppendBytes(b, img)

	case v.Histogram != nil:
		b = protowire.AppendTag(b, valueFieldHisto, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Histogram.marshal())

	case v.Text != nil:
		var tensor []byte
		tensor = protowire.AppendTag(tensor, tensorFieldDtype, protowire.VarintType)
		tensor = protowire.AppendVarint(tensor, dtypeString)
		tensor = protowire.AppendTag(tensor, tensorFieldStringVal, protowire.BytesType)
		tensor = protowire.AppendString(tensor, *v.Text)

		b = protowire.AppendTag(b, valueFieldTensor, protowire.BytesType)
		b = protowire.AppendBytes(b, tensor)

		var plugin []byte
		plugin = protowire.AppendTag(plugin, pluginDataFieldName, protowire.BytesType)
		plugin = protowire.AppendString(plugin, "text")

		var metadata []byte
		metadata = protowire.AppendTag(
			metadata, metadataFieldPluginData, protowire.BytesType)
		metadata = protowire.AppendBytes(metadata, plugin)

		b = protowire.AppendTag(b, valueFieldMetadata, protowire.BytesType)
		b = protowire.AppendBytes(b, metadata)
	}

	return b
}

func (h *HistogramValue) marshal() []byte {
	var b []byte

	appendDouble := func(num protowire.Number, v float64) {
		b = protowire.AppendTag(b, num, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	appendDouble(histoFieldMin, h.Min)
	appendDouble(histoFieldMax, h.Max)
	appendDouble(histoFieldNum, h.Num)
	appendDouble(histoFieldSum, h.Sum)
	appendDouble(histoFieldSumSquares, h.SumSquares)

	appendPacked := func(num protowire.Number, vs []float64) {
		if len(vs) == 0 {
			return
		}
		var packed []byte
		for _, v := range vs {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	appendPacked(histoFieldBucketLimit, h.BucketLimit)
	appendPacked(histoFieldBucket, h.Bucket)

	return b
}

// UnmarshalEvent decodes an Event proto message.
//
// Unknown fields are skipped, so events written by other tools parse
// as long as the fields this integration understands are well-formed.
func UnmarshalEvent(data []byte) (*Event, error) {
	event := &Event{}

	err := eachField(data, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch {
		case num == eventFieldWallTime && typ == protowire.Fixed64Type:
			bits, _ := protowire.ConsumeFixed64(value)
			event.WallTime = math.Float64frombits(bits)

		case num == eventFieldStep && typ == protowire.VarintType:
			step, _ := protowire.ConsumeVarint(value)
			event.Step = int64(step)

		case num == eventFieldFileVersion && typ == protowire.BytesType:
			version, _ := protowire.ConsumeBytes(value)
			event.FileVersion = string(version)

		case num == eventFieldSummary && typ == protowire.BytesType:
			summary, _ := protowire.ConsumeBytes(value)
			return event.unmarshalSummary(summary)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return event, nil
}

func (e *Event) unmarshalSummary(data []byte) error {
	return eachField(data, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num != summaryFieldValue || typ != protowire.BytesType {
			return nil
		}

		raw, _ := protowire.ConsumeBytes(value)
		summaryValue, err := unmarshalSummaryValue(raw)
		if err != nil {
			return err
		}

		e.Summary = append(e.Summary, summaryValue)
		return nil
	})
}

func unmarshalSummaryValue(data []byte) (SummaryValue, error) {
	value := SummaryValue{}

	err := eachField(data, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch {
		case num == valueFieldTag && typ == protowire.BytesType:
			tag, _ := protowire.ConsumeBytes(raw)
			value.Tag = string(tag)

		case num == valueFieldSimpleValue && typ == protowire.Fixed32Type:
			bits, _ := protowire.ConsumeFixed32(raw)
			scalar := float64(math.Float32frombits(bits))
			value.SimpleValue = &scalar

		case num == valueFieldImage && typ == protowire.BytesType:
			imgBytes, _ := protowire.ConsumeBytes(raw)
			img, err := unmarshalImage(imgBytes)
			if err != nil {
				return err
			}
			value.Image = &img
		}
		return nil
	})

	return value, err
}

func unmarshalImage(data []byte) (ImageValue, error) {
	img := ImageValue{}

	err := eachField(data, func(num protowire.Number, typ protowire.Type, raw []byte) error {
		switch {
		case num == imageFieldHeight && typ == protowire.VarintType:
			height, _ := protowire.ConsumeVarint(raw)
			img.Height = int32(height)

		case num == imageFieldWidth && typ == protowire.VarintType:
			width, _ := protowire.ConsumeVarint(raw)
			img.Width = int32(width)

		case num == imageFieldEncoded && typ == protowire.BytesType:
			encoded, _ := protowire.ConsumeBytes(raw)
			img.Encoded = encoded
		}
		return nil
	})

	return img, err
}

// eachField iterates over a message's fields, passing each field's
// number, wire type and the unconsumed remainder starting at its
// value to fn.
func eachField(
	data []byte,
	fn func(num protowire.Number, typ protowire.Type, value []byte) error,
) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("tfevents: invalid field tag: %v", protowire.ParseError(n))
		}
		data = data[n:]

		if err := fn(num, typ, data); err != nil {
			return err
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return fmt.Errorf("tfevents: invalid field value: %v", protowire.ParseError(n))
		}
		data = data[n:]
	}
	return nil
}
