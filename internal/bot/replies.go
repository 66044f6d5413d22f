package bot

// 用户可见的固定回复。措辞保持稳定，流水线状态只通过这些
// 文案向用户暴露。
const (
	replyWelcome = "Welcome to StarkFinder!\n\n" +
		"Ask me anything about the network, or describe a transaction in plain words and I will prepare it for you.\n\n" +
		"Commands:\n" +
		"/wallet <key> - connect your wallet\n" +
		"/balance [token] - check a balance\n" +
		"/txn - how transactions work\n" +
		"/history - your recent transactions\n" +
		"/help - show this message"

	replyHelp = "Here is what I can do:\n\n" +
		"- Answer questions about the network. Just ask.\n" +
		"- Prepare transactions from plain words, e.g. \"swap 10 USDC for ETH\".\n" +
		"- Execute a prepared transaction once you reply \"confirm\".\n\n" +
		"Commands:\n" +
		"/wallet <key> - connect your wallet\n" +
		"/balance [token] - check a balance\n" +
		"/txn - how transactions work\n" +
		"/history - your recent transactions"

	replyConnectWallet = "Please connect your wallet first: /wallet <key>"

	replyWalletUsage = "Usage: /wallet <key>"

	replyWalletInvalid = "That key does not look valid, so nothing was saved. Please check it and send /wallet <key> again."

	replyWalletInGroup = "For your safety I only accept wallet credentials in a private chat. Please message me directly."

	replyUnknownCommand = "I do not recognise that command. Send /help to see what I can do."

	replyTxnInfo = "You do not need a command for transactions. Just describe what you want in plain words, e.g. \"swap 10 USDC for ETH\", and I will prepare a preview for you to confirm."

	replyNothingPending = "There is no transaction waiting for confirmation."

	replyExtractionFailed = "Sorry, I could not turn that into a transaction. Please try rephrasing your request."

	replyExecutionFailed = "The transaction could not be executed and your pending request has been discarded. Please submit it again if you want to retry."

	replyBalanceFailed = "I could not read that balance right now. Please try again in a moment."

	replyNoHistory = "No transactions yet."
)
