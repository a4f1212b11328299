package properties

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill converts Watermill metadata into Properties.
func FromWatermill(md message.Metadata) Properties {
	result := make(Properties, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// ToWatermill converts Properties into a Watermill metadata map.
func ToWatermill(p Properties) message.Metadata {
	wm := make(message.Metadata, len(p))
	for k, v := range p {
		wm[k] = v
	}
	return wm
}
