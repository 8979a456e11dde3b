package t38

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pion/sdp/v3"
)

// Согласование T.38 в SIP идет обычным offer/answer: медиа "image"
// по протоколу udptl с форматом t38 и набором атрибутов T38Fax*.
// Для RTP тракта используется "audio" c rtpmap udptl; здесь
// поддержан классический вариант image/udptl.

// SDPParams параметры T.38 для согласования
type SDPParams struct {
	// Version версия T.38 (0 — базовая)
	Version int

	// MaxBitRate максимальная скорость факса, бит/с
	MaxBitRate int

	// MaxDatagram максимальный размер датаграммы UDPTL
	MaxDatagram int

	// FillBitRemoval удаление заполняющих бит перед передачей
	FillBitRemoval bool

	// TranscodingMMR транскодирование в MMR на шлюзе
	TranscodingMMR bool

	// ECMEnabled использование ECM поверх тракта
	ECMEnabled bool

	// RateManagement управление скоростью: transferredTCF или localTCF
	RateManagement string

	// UDPEC механизм защиты от потерь: t38UDPRedundancy или t38UDPFEC
	UDPEC string
}

// DefaultSDPParams возвращает параметры T.38 по умолчанию
func DefaultSDPParams() SDPParams {
	return SDPParams{
		Version:        0,
		MaxBitRate:     14400,
		MaxDatagram:    MaxFieldLen * 4,
		ECMEnabled:     true,
		RateManagement: "transferredTCF",
		UDPEC:          "t38UDPRedundancy",
	}
}

// BuildOffer строит SDP предложение с image медиа для адреса host:port
func BuildOffer(host string, port int, params SDPParams) *sdp.SessionDescription {
	now := uint64(time.Now().Unix())
	offer := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      now,
			SessionVersion: now,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: host,
		},
		SessionName: "fax",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: host},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
	}
	offer.MediaDescriptions = []*sdp.MediaDescription{buildImageMedia(port, params)}
	return offer
}

// BuildAnswer строит ответ на принятое предложение: параметры
// ужимаются до общих с локальными
func BuildAnswer(host string, port int, local SDPParams, offered SDPParams) *sdp.SessionDescription {
	answer := local
	if offered.MaxBitRate < answer.MaxBitRate {
		answer.MaxBitRate = offered.MaxBitRate
	}
	if offered.MaxDatagram > 0 && offered.MaxDatagram < answer.MaxDatagram {
		answer.MaxDatagram = offered.MaxDatagram
	}
	answer.ECMEnabled = answer.ECMEnabled && offered.ECMEnabled
	return BuildOffer(host, port, answer)
}

func buildImageMedia(port int, params SDPParams) *sdp.MediaDescription {
	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "image",
			Port:    sdp.RangedPort{Value: port},
			Protos:  []string{"udptl"},
			Formats: []string{"t38"},
		},
	}
	media.Attributes = []sdp.Attribute{
		sdp.NewAttribute("T38FaxVersion", strconv.Itoa(params.Version)),
		sdp.NewAttribute("T38MaxBitRate", strconv.Itoa(params.MaxBitRate)),
		sdp.NewAttribute("T38FaxRateManagement", params.RateManagement),
		sdp.NewAttribute("T38FaxMaxDatagram", strconv.Itoa(params.MaxDatagram)),
		sdp.NewAttribute("T38FaxUdpEC", params.UDPEC),
	}
	if params.FillBitRemoval {
		media.Attributes = append(media.Attributes, sdp.NewPropertyAttribute("T38FaxFillBitRemoval"))
	}
	if params.TranscodingMMR {
		media.Attributes = append(media.Attributes, sdp.NewPropertyAttribute("T38FaxTranscodingMMR"))
	}
	return media
}

// ParseAnswer извлекает параметры T.38 и адрес тракта из SDP партнера
func ParseAnswer(desc *sdp.SessionDescription) (SDPParams, string, error) {
	var imageMedia *sdp.MediaDescription
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == "image" {
			imageMedia = m
			break
		}
	}
	if imageMedia == nil {
		return SDPParams{}, "", newGatewayError(ErrorCodeNoImageMedia, "в SDP нет image медиа")
	}

	params := DefaultSDPParams()
	for _, attr := range imageMedia.Attributes {
		switch attr.Key {
		case "T38FaxVersion":
			v, err := strconv.Atoi(attr.Value)
			if err != nil {
				return params, "", wrapGatewayError(ErrorCodeBadSDPAttribute, err, "T38FaxVersion")
			}
			params.Version = v
		case "T38MaxBitRate":
			v, err := strconv.Atoi(attr.Value)
			if err != nil {
				return params, "", wrapGatewayError(ErrorCodeBadSDPAttribute, err, "T38MaxBitRate")
			}
			params.MaxBitRate = v
		case "T38FaxMaxDatagram":
			v, err := strconv.Atoi(attr.Value)
			if err != nil {
				return params, "", wrapGatewayError(ErrorCodeBadSDPAttribute, err, "T38FaxMaxDatagram")
			}
			params.MaxDatagram = v
		case "T38FaxRateManagement":
			params.RateManagement = attr.Value
		case "T38FaxUdpEC":
			params.UDPEC = attr.Value
		case "T38FaxFillBitRemoval":
			params.FillBitRemoval = true
		case "T38FaxTranscodingMMR":
			params.TranscodingMMR = true
		}
	}

	host := ""
	if imageMedia.ConnectionInformation != nil && imageMedia.ConnectionInformation.Address != nil {
		host = imageMedia.ConnectionInformation.Address.Address
	} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		host = desc.ConnectionInformation.Address.Address
	}
	if host == "" {
		return params, "", newGatewayError(ErrorCodeBadSDPAttribute, "в SDP нет адреса соединения")
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", imageMedia.MediaName.Port.Value))
	return params, addr, nil
}
