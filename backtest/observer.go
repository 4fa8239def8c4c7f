package backtest

// RunInfo 回测的标识信息，随每个回调一起传给观察者
type RunInfo struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Strategy string `json:"strategy"`
	Bars     int    `json:"bars"`
}

// Observer 回放观察者，由回放循环同步调用
// 观察者只收到值拷贝，不能修改账本
type Observer interface {
	OnFill(run RunInfo, fill Fill, trade *Trade)
	OnReject(run RunInfo, rejected RejectedSignal)
	OnEquity(run RunInfo, point EquityPoint)
	OnComplete(run RunInfo, result *BacktestResult)
}

// NopObserver 空实现，便于只关心部分事件的观察者嵌入
type NopObserver struct{}

func (NopObserver) OnFill(RunInfo, Fill, *Trade) {}
func (NopObserver) OnReject(RunInfo, RejectedSignal) {}
func (NopObserver) OnEquity(RunInfo, EquityPoint) {}
func (NopObserver) OnComplete(RunInfo, *BacktestResult) {}

// ObserverFuncs 以函数字段组装观察者，未设置的回调忽略
type ObserverFuncs struct {
	Fill     func(run RunInfo, fill Fill, trade *Trade)
	Reject   func(run RunInfo, rejected RejectedSignal)
	Equity   func(run RunInfo, point EquityPoint)
	Complete func(run RunInfo, result *BacktestResult)
}

func (o ObserverFuncs) OnFill(run RunInfo, fill Fill, trade *Trade) {
	if o.Fill != nil {
		o.Fill(run, fill, trade)
	}
}

func (o ObserverFuncs) OnReject(run RunInfo, rejected RejectedSignal) {
	if o.Reject != nil {
		o.Reject(run, rejected)
	}
}

func (o ObserverFuncs) OnEquity(run RunInfo, point EquityPoint) {
	if o.Equity != nil {
		o.Equity(run, point)
	}
}

func (o ObserverFuncs) OnComplete(run RunInfo, result *BacktestResult) {
	if o.Complete != nil {
		o.Complete(run, result)
	}
}
