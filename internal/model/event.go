package model

import "strings"

// EventType is the settlement state a notification reports.
type EventType string

const (
	EventUnknown   EventType = "UNKNOWN"
	EventConfirmed EventType = "CONFIRMED"
	EventFinished  EventType = "FINISHED"
	EventCanceled  EventType = "CANCELED"
)

// ParseEventType maps a provider event string onto an EventType.
// Matching is case-insensitive; anything unrecognised is EventUnknown.
func ParseEventType(s string) EventType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "transactionconfirmed", "confirmed":
		return EventConfirmed
	case "transactionfinished", "finished":
		return EventFinished
	case "transactioncanceled", "transactioncancelled", "canceled", "cancelled":
		return EventCanceled
	default:
		return EventUnknown
	}
}

// NotificationPayload is the provider's webhook body as sent on the wire.
type NotificationPayload struct {
	EventType            string                `json:"EventType"`
	ProjectUID           string                `json:"ProjectUid"`
	TxHash               string                `json:"TxHash"`
	NotificationSaleNfts []NotificationSaleNft `json:"NotificationSaleNfts"`
	Price                int64                 `json:"Price"`
	ReceiverAddress      string                `json:"ReceiverAddress"`
	ReceiverStakeAddress string                `json:"ReceiverStakeAddress"`
}

// NotificationSaleNft is a single asset entry in a provider payload.
type NotificationSaleNft struct {
	NftUID  string `json:"NftUid"`
	NftName string `json:"NftName"`
	AssetID string `json:"AssetId"`
}

// SaleAsset identifies one asset moved by a transaction.
type SaleAsset struct {
	UID     string `json:"uid"`
	Name    string `json:"name"`
	AssetID string `json:"asset_id"`
}

// Key returns the identifier used for claims: the on-chain asset id when
// known, the provider's unit id otherwise.
func (a SaleAsset) Key() string {
	if a.AssetID != "" {
		return a.AssetID
	}
	return a.UID
}

// NotificationEvent is a parsed, immutable notification.
type NotificationEvent struct {
	TxID          string      `json:"tx_id"`
	Type          EventType   `json:"type"`
	RawType       string      `json:"raw_type"`
	BuyerIdentity string      `json:"buyer_identity"`
	BuyerAddress  string      `json:"buyer_address"`
	ProjectID     string      `json:"project_id"`
	Assets        []SaleAsset `json:"assets"`
	Amount        int64       `json:"amount"`
	Raw           []byte      `json:"-"`
}

// PrimaryAssetID returns the first asset's key, or "" for an event without assets.
func (e *NotificationEvent) PrimaryAssetID() string {
	if len(e.Assets) == 0 {
		return ""
	}
	return e.Assets[0].Key()
}
