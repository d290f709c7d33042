package stripe

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	xerrors "Nara-Wallet/internal/errors"
)

// EventCheckoutCompleted 是结账完成事件类型。
const EventCheckoutCompleted = "checkout.session.completed"

// 元数据键，创建会话与解析事件共用。
const (
	MetaOrderID     = "order_id"
	MetaCoinType    = "coin_type"
	MetaDestination = "destination_address"
	MetaAmountMinor = "amount_minor"
)

// Event 是 webhook 事件中被使用到的部分。
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutObject struct {
	ID            string            `json:"id"`
	Created       json.Number       `json:"created"`
	Metadata      map[string]string `json:"metadata"`
	PaymentIntent json.RawMessage   `json:"payment_intent"`
}

// Metadata 是从结账事件提取的订单信息。
type Metadata struct {
	SessionID   string
	OrderID     string
	Asset       string
	Destination string
	AmountMinor int64
	// Created 为 0 表示事件未携带会话创建时间。
	Created int64
}

// ParseEvent 解析 webhook 请求体。
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法解析 webhook 事件")
	}
	return &ev, nil
}

// CheckoutMetadata 提取订单元数据；会话级元数据优先，缺失的键回退到 payment_intent 元数据。
// 资产或收款地址缺失时返回 INVALID_ARGUMENT。
func (e *Event) CheckoutMetadata() (*Metadata, error) {
	var obj checkoutObject
	if len(bytes.TrimSpace(e.Data.Object)) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "事件缺少 data.object")
	}
	dec := json.NewDecoder(bytes.NewReader(e.Data.Object))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法解析结账对象")
	}

	merged := map[string]string{}
	if intent := bytes.TrimSpace(obj.PaymentIntent); len(intent) > 0 && intent[0] == '{' {
		var pi struct {
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(intent, &pi); err == nil {
			for k, v := range pi.Metadata {
				merged[k] = v
			}
		}
	}
	for k, v := range obj.Metadata {
		merged[k] = v
	}

	md := &Metadata{
		SessionID:   obj.ID,
		OrderID:     strings.TrimSpace(merged[MetaOrderID]),
		Asset:       strings.ToUpper(strings.TrimSpace(merged[MetaCoinType])),
		Destination: strings.TrimSpace(merged[MetaDestination]),
	}
	if md.Asset == "" || md.Destination == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "事件缺少资产或收款地址元数据",
			xerrors.WithMetadata("event_id", e.ID))
	}
	if minor, err := strconv.ParseInt(strings.TrimSpace(merged[MetaAmountMinor]), 10, 64); err == nil {
		md.AmountMinor = minor
	}
	if created, err := obj.Created.Int64(); err == nil && created > 0 {
		md.Created = created
	}
	return md, nil
}
