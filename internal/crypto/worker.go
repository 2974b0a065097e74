package crypto

import "fmt"

// Op は暗号ワーカーへの操作種別。
type Op string

const (
	// OpEncrypt はストリーム暗号化を要求する。
	OpEncrypt Op = "encrypt"
	// OpDecrypt はストリーム復号を要求する。
	OpDecrypt Op = "decrypt"
)

// Request は暗号ワーカーへの要求メッセージ。
// 鍵素材とバッファは所有権ごとワーカーに渡し、共有状態は境界を越えない。
type Request struct {
	Op        Op
	Key       []byte
	Data      []byte
	BaseIV    []byte // OpDecrypt のみ必須
	ChunkSize int
}

// Progress はチャンク完了ごとの進捗通知（0〜100%）。
// 読み手が遅い場合は中間値が間引かれるが、最新値（最終的に100%）は
// 必ず観測できる。
type Progress struct {
	Percent int
}

// Result はワーカーの終端メッセージ。Err が非nilなら Data は無効。
type Result struct {
	Data   []byte
	BaseIV []byte
	Err    error
}

type job struct {
	req      Request
	progress chan Progress
	result   chan Result
}

// CipherWorker はチャンク暗号化を呼び出し元とは別のゴルーチンで実行する。
// ファイル内のチャンク処理は番号順に逐次実行されるが、独立したファイルは
// 別々のワーカーインスタンスで並行に処理できる。
// 協調的な中断手段はなく、処理中のジョブは Close 時も完了まで実行される。
type CipherWorker struct {
	provider Provider
	jobs     chan job
	done     chan struct{}
}

// NewCipherWorker はワーカーを生成し、処理ゴルーチンを起動する。
// 暗号処理は注入されたProviderに委譲される。
func NewCipherWorker(provider Provider) *CipherWorker {
	w := &CipherWorker{
		provider: provider,
		jobs:     make(chan job),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *CipherWorker) run() {
	defer close(w.done)
	for j := range w.jobs {
		w.process(j)
	}
}

func (w *CipherWorker) process(j job) {
	defer close(j.progress)

	emit := func(done, total int) {
		p := Progress{Percent: done * 100 / total}
		// 読み手が追いついていない場合は滞留している古い進捗を取り除いて
		// 最新値を入れ直す。バッファに常に残るのは最新の進捗であり、
		// 最後の100%が失われることはない。送信側はこのワーカーのみ。
		for {
			select {
			case j.progress <- p:
				return
			default:
			}
			select {
			case <-j.progress:
			default:
			}
		}
	}

	var res Result
	switch j.req.Op {
	case OpEncrypt:
		ciphertext, baseIV, err := w.provider.EncryptStream(j.req.Data, j.req.Key, j.req.ChunkSize, emit)
		res = Result{Data: ciphertext, BaseIV: baseIV, Err: err}
	case OpDecrypt:
		plaintext, err := w.provider.DecryptStream(j.req.Data, j.req.Key, j.req.BaseIV, j.req.ChunkSize, emit)
		res = Result{Data: plaintext, BaseIV: j.req.BaseIV, Err: err}
	default:
		res = Result{Err: fmt.Errorf("unknown cipher operation %q", j.req.Op)}
	}
	j.result <- res
}

// Submit はジョブを投入し、進捗チャネルと結果チャネルを返す。
// 結果チャネルには必ず1件の終端メッセージが届き、進捗チャネルは
// ジョブ完了時に閉じられる。Close 後の Submit は不正。
func (w *CipherWorker) Submit(req Request) (<-chan Progress, <-chan Result) {
	j := job{
		req:      req,
		progress: make(chan Progress, 1),
		result:   make(chan Result, 1),
	}
	w.jobs <- j
	return j.progress, j.result
}

// Close は受付を停止し、処理中のジョブの完了を待つ。
func (w *CipherWorker) Close() {
	close(w.jobs)
	<-w.done
}
