package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

func (r *Resolver) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("构建价格请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求价格源失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("价格源返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("解析价格响应失败: %w", err)
	}
	return nil
}

func (r *Resolver) fetchCoinGecko(ctx context.Context, id string) (decimal.Decimal, error) {
	if id == "" {
		return decimal.Zero, errors.New("价格标识为空")
	}
	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", "usd")

	var payload map[string]map[string]json.Number
	if err := r.getJSON(ctx, r.coingeckoURL+"/simple/price?"+query.Encode(), &payload); err != nil {
		return decimal.Zero, err
	}
	raw, ok := payload[id]["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("CoinGecko 未返回 %s 的价格", id)
	}
	return positive(raw)
}

func (r *Resolver) fetchCryptoCompare(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return decimal.Zero, errors.New("资产符号为空")
	}
	query := url.Values{}
	query.Set("fsym", symbol)
	query.Set("tsyms", "USD")

	var payload map[string]any
	if err := r.getJSON(ctx, r.cryptocompareURL+"/data/price?"+query.Encode(), &payload); err != nil {
		return decimal.Zero, err
	}
	raw, ok := payload["USD"].(json.Number)
	if !ok {
		return decimal.Zero, fmt.Errorf("CryptoCompare 未返回 %s 的价格", symbol)
	}
	return positive(raw)
}

// search 通过 CoinGecko 搜索接口解析资产：优先选择符号完全匹配的结果，否则取第一个。
func (r *Resolver) search(ctx context.Context, label string) (Target, bool) {
	if label == "" {
		return Target{}, false
	}
	var payload struct {
		Coins []struct {
			ID     string `json:"id"`
			Symbol string `json:"symbol"`
		} `json:"coins"`
	}
	if err := r.getJSON(ctx, r.coingeckoURL+"/search?query="+url.QueryEscape(label), &payload); err != nil {
		r.log.Debug("CoinGecko 搜索失败", "label", label, "error", err)
		return Target{}, false
	}
	if len(payload.Coins) == 0 {
		return Target{}, false
	}
	chosen := payload.Coins[0]
	for _, coin := range payload.Coins {
		if strings.EqualFold(coin.Symbol, label) {
			chosen = coin
			break
		}
	}
	if chosen.ID == "" {
		return Target{}, false
	}
	symbol := chosen.Symbol
	if symbol == "" {
		symbol = label
	}
	return Target{ID: chosen.ID, Symbol: strings.ToUpper(symbol)}, true
}

func positive(raw json.Number) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("价格格式非法: %w", err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("价格非正数: %s", price)
	}
	return price, nil
}
