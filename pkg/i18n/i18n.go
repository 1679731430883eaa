package i18n

import (
	"reflect"
	"strings"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ServerListening    string
	GRPCListening      string
	ShuttingDown       string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	APIServerError     string
	KafkaEnabled       string
	PublishFailed      string

	// Backtest
	BacktestStarted   string
	BacktestCompleted string
	BacktestFailed    string
	DataLoaded        string
	BenchmarkSkipped  string
	SweepStarted      string
	SweepFinished     string
	BestParameters    string
	RunSaved          string

	// Signals
	SignalBuy  string
	SignalSell string
	SignalHold string

	// Report
	ReportTitle         string
	SectionOverview     string
	SectionReturns      string
	SectionRisk         string
	SectionTrades       string
	SectionMonthly      string
	SectionSignals      string
	LabelSymbol         string
	LabelPeriod         string
	LabelParameters     string
	LabelInitialCapital string
	LabelFinalValue     string
	LabelTotalReturn    string
	LabelAnnualReturn   string
	LabelMaxDrawdown    string
	LabelSharpe         string
	LabelSortino        string
	LabelCalmar         string
	LabelVolatility     string
	LabelVaR            string
	LabelCVaR           string
	LabelBeta           string
	LabelAlpha          string
	LabelInfoRatio      string
	LabelTotalTrades    string
	LabelWinningTrades  string
	LabelLosingTrades   string
	LabelWinRate        string
	LabelAvgWin         string
	LabelAvgLoss        string
	LabelProfitFactor   string
	LabelMonth          string
	LabelReturn         string
	LabelDate           string
	LabelSignal         string
	LabelPrice          string
	LabelExplanation    string
	NoBenchmark         string
	NoTrades            string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:           "Starting MACD backtest service...",
	ConfigLoaded:       "Config loaded (Port: %s, Source: %s)",
	UsingDBPath:        "Using DB path: %s",
	ServerListening:    "Server listening on :%s",
	GRPCListening:      "gRPC health service listening on :%s",
	ShuttingDown:       "Shutting down gracefully...",
	ConfigLoadFailed:   "Failed to load config: %v",
	DBInitFailed:       "Failed to init db: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	APIServerError:     "API server error: %v",
	KafkaEnabled:       "Kafka publishing enabled (topic: %s)",
	PublishFailed:      "Failed to publish result %s: %v",

	// Backtest
	BacktestStarted:   "Backtest started: %s (%s - %s)",
	BacktestCompleted: "Backtest finished: %s total return %.2f%%, Sharpe %.2f",
	BacktestFailed:    "Backtest %s failed: %v",
	DataLoaded:        "Loaded %d bars for %s",
	BenchmarkSkipped:  "Benchmark %s unavailable, skipping relative metrics: %v",
	SweepStarted:      "Sweep started: %d runs",
	SweepFinished:     "Sweep finished: %d succeeded, %d failed",
	BestParameters:    "Best parameters: %s (Sharpe %.2f)",
	RunSaved:          "Run %s saved",

	// Signals
	SignalBuy:  "BUY: MACD(%.4f) > signal(%.4f), histogram(%.4f) > 0, uptrend",
	SignalSell: "SELL: MACD(%.4f) < signal(%.4f), histogram(%.4f) < 0, downtrend",
	SignalHold: "HOLD: MACD(%.4f), signal(%.4f), no clear signal",

	// Report
	ReportTitle:         "%s Backtest Report",
	SectionOverview:     "Overview",
	SectionReturns:      "Returns",
	SectionRisk:         "Risk",
	SectionTrades:       "Trades",
	SectionMonthly:      "Monthly Returns",
	SectionSignals:      "Recent Signals",
	LabelSymbol:         "Symbol",
	LabelPeriod:         "Period",
	LabelParameters:     "MACD Parameters",
	LabelInitialCapital: "Initial Capital",
	LabelFinalValue:     "Final Value",
	LabelTotalReturn:    "Total Return",
	LabelAnnualReturn:   "Annualized Return",
	LabelMaxDrawdown:    "Max Drawdown",
	LabelSharpe:         "Sharpe Ratio",
	LabelSortino:        "Sortino Ratio",
	LabelCalmar:         "Calmar Ratio",
	LabelVolatility:     "Volatility",
	LabelVaR:            "VaR (95%)",
	LabelCVaR:           "CVaR (95%)",
	LabelBeta:           "Beta",
	LabelAlpha:          "Alpha",
	LabelInfoRatio:      "Information Ratio",
	LabelTotalTrades:    "Total Trades",
	LabelWinningTrades:  "Winning Trades",
	LabelLosingTrades:   "Losing Trades",
	LabelWinRate:        "Win Rate",
	LabelAvgWin:         "Average Win",
	LabelAvgLoss:        "Average Loss",
	LabelProfitFactor:   "Profit Factor",
	LabelMonth:          "Month",
	LabelReturn:         "Return",
	LabelDate:           "Date",
	LabelSignal:         "Signal",
	LabelPrice:          "Price",
	LabelExplanation:    "Explanation",
	NoBenchmark:         "No benchmark",
	NoTrades:            "No trades",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:           "启动 MACD 回测服务...",
	ConfigLoaded:       "配置已加载（端口：%s，数据源：%s）",
	UsingDBPath:        "使用数据库路径：%s",
	ServerListening:    "服务监听于 :%s",
	GRPCListening:      "gRPC 健康检查服务监听于 :%s",
	ShuttingDown:       "正在优雅关闭...",
	ConfigLoadFailed:   "加载配置失败：%v",
	DBInitFailed:       "初始化数据库失败：%v",
	DBMigrationsFailed: "执行迁移失败：%v",
	APIServerError:     "API 服务错误：%v",
	KafkaEnabled:       "已启用 Kafka 发布（主题：%s）",
	PublishFailed:      "发布结果 %s 失败：%v",

	// Backtest
	BacktestStarted:   "开始回测：%s（%s - %s）",
	BacktestCompleted: "回测完成：%s 总收益率 %.2f%%，夏普比率 %.2f",
	BacktestFailed:    "回测 %s 失败：%v",
	DataLoaded:        "已加载 %d 条 %s 数据",
	BenchmarkSkipped:  "基准 %s 不可用，跳过相对指标：%v",
	SweepStarted:      "参数扫描开始：共 %d 次回测",
	SweepFinished:     "参数扫描结束：成功 %d，失败 %d",
	BestParameters:    "最佳参数：%s（夏普比率 %.2f）",
	RunSaved:          "回测 %s 已保存",

	// Signals
	SignalBuy:  "买入信号：MACD(%.4f) > 信号线(%.4f)，柱状图(%.4f) > 0，趋势向上",
	SignalSell: "卖出信号：MACD(%.4f) < 信号线(%.4f)，柱状图(%.4f) < 0，趋势向下",
	SignalHold: "持有：MACD(%.4f)，信号线(%.4f)，无明确信号",

	// Report
	ReportTitle:         "%s 回测报告",
	SectionOverview:     "概览",
	SectionReturns:      "收益指标",
	SectionRisk:         "风险指标",
	SectionTrades:       "交易统计",
	SectionMonthly:      "月度收益",
	SectionSignals:      "近期信号",
	LabelSymbol:         "标的",
	LabelPeriod:         "回测区间",
	LabelParameters:     "MACD 参数",
	LabelInitialCapital: "初始资金",
	LabelFinalValue:     "最终价值",
	LabelTotalReturn:    "总收益率",
	LabelAnnualReturn:   "年化收益率",
	LabelMaxDrawdown:    "最大回撤",
	LabelSharpe:         "夏普比率",
	LabelSortino:        "索提诺比率",
	LabelCalmar:         "卡玛比率",
	LabelVolatility:     "波动率",
	LabelVaR:            "风险价值 (95%)",
	LabelCVaR:           "条件风险价值 (95%)",
	LabelBeta:           "贝塔",
	LabelAlpha:          "阿尔法",
	LabelInfoRatio:      "信息比率",
	LabelTotalTrades:    "总交易次数",
	LabelWinningTrades:  "盈利交易",
	LabelLosingTrades:   "亏损交易",
	LabelWinRate:        "胜率",
	LabelAvgWin:         "平均盈利",
	LabelAvgLoss:        "平均亏损",
	LabelProfitFactor:   "盈亏比",
	LabelMonth:          "月份",
	LabelReturn:         "收益率",
	LabelDate:           "日期",
	LabelSignal:         "信号",
	LabelPrice:          "价格",
	LabelExplanation:    "说明",
	NoBenchmark:         "无基准",
	NoTrades:            "无交易",
}

func init() {
	messages = &messagesEN
}

// ParseLanguage maps a free-form value ("zh", "zh-CN", "EN") to a supported
// language, defaulting to English.
func ParseLanguage(s string) Language {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "zh") {
		return LangZH
	}
	return LangEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	messages = catalog(lang)
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// For returns the messages of a specific language without touching the
// process-wide setting.
func For(lang Language) *Messages {
	return catalog(lang)
}

func catalog(lang Language) *Messages {
	if lang == LangZH {
		return &messagesZH
	}
	return &messagesEN
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
