package intent

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"Nara-Wallet/internal/units"
)

// AffirmativeToken 是确认待执行意图的唯一回复。
const AffirmativeToken = "yes"

const helpMessage = `Hello! I'm **Nara**, your AI Crypto Wallet Agent.

I help you manage and grow your crypto portfolio by:
1. Generating wallet addresses for BTC, ETH, SOL and ICP.
2. Sending crypto to any valid blockchain address.
3. Receiving crypto through your personal wallet address.
4. Checking your real-time coin balances.
5. Buying crypto instantly with secure Stripe payments.

You can simply chat with me to:
- Show your wallet address.
- Transfer coins to another address.
- Check your wallet balance.
- Buy crypto using fiat currency.
- Look up the current price of a coin.

Every transaction is confirmed by you before it is executed.`

const welcomeMessage = "I couldn't determine your request. I'm Nara, your AI Crypto Wallet Agent, and I can help you " +
	"with tasks such as showing your wallet addresses for BTC, ETH, SOL and ICP, sending crypto to any valid " +
	"blockchain address, receiving crypto through your personal wallet address, checking your real-time coin " +
	"balances, buying crypto instantly with secure Stripe payments, and looking up coin prices. If your question " +
	"is outside these areas, I won't be able to help, so please rephrase your question to match one of these topics."

const sessionStartedMessage = "Your wallet is ready. Your ICP principal is %s. Ask me for your addresses, balances, transfers or purchases."

var networkNames = map[string]string{
	units.BTC: "Bitcoin",
	units.ETH: "Ethereum",
	units.SOL: "Solana",
	units.ICP: "ICP",
}

func networkName(symbol string) string {
	if name, ok := networkNames[symbol]; ok {
		return name
	}
	return symbol
}

func transferPrompt(asset, destination, amount string) string {
	return "Please confirm your transfer request.\n\n" +
		"Do you want to proceed sending to this address? Estimated confirmation is 3 blocks and the fee is static. " +
		"Type 'yes' to proceed, or type anything else to cancel.\n\n" +
		fmt.Sprintf("- Network: %s\n", networkName(asset)) +
		fmt.Sprintf("- Destination: %s\n", destination) +
		fmt.Sprintf("- Amount: %s %s\n", amount, asset) +
		"- Estimated confirmations: 3 blocks (static)\n" +
		"- Estimated fee: 0.0001 (static)\n"
}

func purchasePrompt(asset, destination, amount, estimate string) string {
	if destination == "" {
		destination = "your " + networkName(asset) + " wallet"
	}
	return "Please confirm your purchase request.\n\n" +
		"Type 'yes' to receive a payment link, or type anything else to cancel. " +
		"The final token amount is calculated from the market price when your payment completes.\n\n" +
		fmt.Sprintf("- Asset: %s\n", asset) +
		fmt.Sprintf("- Amount: %s %s\n", amount, asset) +
		fmt.Sprintf("- Destination: %s\n", destination) +
		fmt.Sprintf("- Estimated cost: %s\n", estimate)
}

func insufficientMessage(asset, requested, available string) string {
	return "Sorry, the canister balance is not sufficient to fulfill your purchase.\n" +
		fmt.Sprintf("- Asset: %s\n", asset) +
		fmt.Sprintf("- Requested: %s %s\n", requested, asset) +
		fmt.Sprintf("- Available: %s %s\n", available, asset) +
		"Please reduce the amount or try another asset."
}

func paymentLinkMessage(orderID string, cents int64, url string, validMinutes int) string {
	return "Payment link created successfully!\n\n" +
		fmt.Sprintf("- Order: %s\n", orderID) +
		fmt.Sprintf("- Amount: %s\n", units.FormatUSD(decimal.New(cents, -2))) +
		fmt.Sprintf("- Link: %s\n\n", url) +
		fmt.Sprintf("The link must be paid within %d minutes.", validMinutes)
}

func transferDoneMessage(asset, destination, amount, tx string) string {
	return "Transfer submitted.\n\n" +
		fmt.Sprintf("- Network: %s\n", networkName(asset)) +
		fmt.Sprintf("- Destination: %s\n", destination) +
		fmt.Sprintf("- Amount: %s %s\n", amount, asset) +
		fmt.Sprintf("- Transaction: %s", tx)
}

const priceUnavailableMessage = "Invalid payment amount or price unavailable"

func transferFailedMessage(err error) string {
	return "Transfer failed: " + err.Error()
}

func paymentFailedMessage(err error) string {
	return "Error creating payment link: " + err.Error()
}

func invalidRequestMessage(err error) string {
	return "I couldn't prepare that request: " + err.Error()
}

func processingErrorMessage(err error) string {
	return "An error occurred while processing your request: " + err.Error()
}

func unsupportedPurchaseMessage(asset string) string {
	return fmt.Sprintf("Asset %s is not supported. Use: %s", asset, strings.Join([]string{units.BTC, units.ETH, units.SOL, units.ICP}, ", "))
}
