package service

// 对用户可见的固定文案。
const (
	// AgentSystemPrompt 是普通对话与工具对话共用的系统提示词。
	AgentSystemPrompt = `你是一個友善且有幫助的 AI 助手，透過 LINE 與用戶對話。你具備以下工具和能力：

🛠️ 可用工具：
1. weather_query - 查詢當前天氣資訊
2. weather_forecast - 查詢5天天氣預報
3. calorie_calculator - 計算食物卡路里
4. bmi_calculator - 計算BMI指數

💬 對話原則：
- 用繁體中文回應
- 保持友善和有禮貌的語調
- 當用戶詢問天氣時，主動使用天氣工具
- 當用戶詢問食物卡路里時，使用卡路里計算工具
- 當用戶提到身高體重或想計算BMI時，使用BMI工具
- 如果不確定是否需要使用工具，可以詢問用戶需要什麼幫助
- 提供準確且實用的資訊

🎯 目標：
成為用戶的智能生活助手，協助他們獲取天氣資訊、營養資訊和健康建議。`

	// FallbackSystemPrompt 用于降级路径，不携带历史。
	FallbackSystemPrompt = "你是一個友善的AI助手。簡潔地回應用戶。"

	ApologyText        = "抱歉，我暫時無法處理您的請求，請稍後再試。"
	ClearedText        = "對話記憶已清除！"
	NoHistoryText      = "目前沒有對話記錄。"
	SummaryFailedText  = "無法生成對話摘要，請稍後再試。"
	SummaryPromptTitle = "請總結以下對話的重點：\n\n"

	HelpText = `🤖 LINE 智能助手使用說明

💬 基本功能：
• 直接與我對話，我會記住我們的對話內容
• 我可以理解上下文並提供相關回應

🛠️ 特殊指令：
• /clear - 清除對話記憶
• /summary - 取得對話摘要
• /help - 顯示此說明
• /tools - 查看可用工具

🌟 進階功能：
• 🌤️ 詢問天氣：「台北天氣如何？」
• 🍎 卡路里查詢：「一顆蘋果有多少卡路里？」
• 📊 BMI 計算：「身高170 體重70 BMI多少？」

開始與我對話吧！`

	ToolsText = `🛠️ 我的工具箱

🌤️ 天氣工具：
• 查詢當前天氣：「台北天氣如何？」
• 查詢天氣預報：「台北未來5天天氣」

🍎 營養工具：
• 卡路里計算：「1顆蘋果多少卡路里？」
• BMI計算：「身高170cm 體重70kg BMI多少？」

💡 使用方式：
直接告訴我您想要什麼資訊，我會自動選擇合適的工具來幫助您！

例如：
「今天台北天氣如何？」
「一碗白米飯有多少卡路里？」
「我身高165體重55，BMI正常嗎？」`
)
