package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v7"
	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"

	"github.com/sdrwatch/dmrscan/record"

	// Blind import support for sqlite3 used by the sqlite recorder.
	_ "github.com/mattn/go-sqlite3"
)

var (
	listen   = flag.String("listen", ":8443", "")
	certFile = flag.String("certFile", "", "Path of the file containing the certificate (including the chained intermediates and root) for the TLS connection.")
	keyFile  = flag.String("keyFile", "", "Path of the file containing the key for the TLS connection.")
	output   = flag.String("output", "", "Storage backend to use (one of: csv, sqlite, mysql, elastic)")

	// CSV
	csvPath = flag.String("csvPath", "/tmp/dmrscan.csv", "File path of the CSV call log to append to.")

	// SQLite
	sqliteFile = flag.String("sqliteFile", "/tmp/dmrscan.sqlite", "File path of the sqlite DB file to use.")

	// MySQL
	mysqlServer       = flag.String("mysqlServer", "127.0.0.1:3306", "MySQL TCP server endpoint to connect to (IP/DNS and port).")
	mysqlUser         = flag.String("mysqlUser", "", "MySQL DB user.")
	mysqlPasswordFile = flag.String("mysqlPasswordFile", "", "Path to the file containing the password for the MySQL user.")
	mysqlDBName       = flag.String("mysqlDBName", "dmrscan", "Name of the DB to use.")

	// Elastic
	esEndpoints    = flag.String("esEndpoints", "http://localhost:9200", "Comma separated list of Elastic endpoints to connect to.")
	esUser         = flag.String("esUser", "", "Elastic user.")
	esPasswordFile = flag.String("esPasswordFile", "", "Path to the file containing the password for the Elastic user.")
)

const collectEndpoint = "/dmrscan/v1/collect"

type collectServer struct {
	server   *http.Server
	recorder record.Recorder
}

func (s *collectServer) collectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	calls := []record.CallRecord{}
	if err := json.NewDecoder(r.Body).Decode(&calls); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	scannerID := r.Header.Get("X-Scanner-ID")
	stored := 0
	for _, call := range calls {
		if err := s.recorder.Append(r.Context(), call); err != nil {
			glog.Warningf("error storing call from %q: %s\n", scannerID, err)
			continue
		}
		stored++
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"callCount": stored,
	})
}

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()

	// Recorder setup
	var recorder record.Recorder
	switch strings.ToLower(*output) {
	case "csv":
		recorder = &record.CSV{Path: *csvPath}
	case "sqlite":
		db, err := sql.Open("sqlite3", *sqliteFile)
		if err != nil {
			glog.Exitf("unable to open sqlite DB %q: %s", *sqliteFile, err)
		}
		defer db.Close()
		recorder = &record.SQLite{DB: db}
	case "mysql":
		pass, err := os.ReadFile(*mysqlPasswordFile)
		if err != nil {
			glog.Exitf("unable to read MySQL password file %q: %s\n", *mysqlPasswordFile, err)
		}
		cfg := mysql.Config{
			User:   *mysqlUser,
			Passwd: strings.TrimSpace(string(pass)),
			Net:    "tcp",
			Addr:   *mysqlServer,
			DBName: *mysqlDBName,
		}
		db, err := sql.Open("mysql", cfg.FormatDSN())
		if err != nil {
			glog.Exitf("unable to open MySQL DB %q: %s", *mysqlServer, err)
		}
		db.SetConnMaxLifetime(3 * time.Minute)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		defer db.Close()
		recorder = &record.MySQL{DB: db}
	case "elastic":
		cfg := elasticsearch.Config{
			Addresses: strings.Split(*esEndpoints, ","),
			Username:  *esUser,
		}
		if *esPasswordFile != "" {
			pass, err := os.ReadFile(*esPasswordFile)
			if err != nil {
				glog.Exitf("unable to read Elastic password file %q: %s\n", *esPasswordFile, err)
			}
			cfg.Password = strings.TrimSpace(string(pass))
		}
		esClient, err := elasticsearch.NewClient(cfg)
		if err != nil {
			glog.Exitf("unable to create Elastic client: %s", err)
		}
		recorder = &record.Elastic{Client: esClient}
	default:
		glog.Exitf("%q is not a supported storage backend, pick one of: csv, sqlite, mysql, elastic", *output)
	}

	// Configure and run webserver.
	s := collectServer{
		server: &http.Server{
			Addr:    *listen,
			Handler: nil, // use `http.DefaultServeMux`
		},
		recorder: recorder,
	}
	http.HandleFunc(collectEndpoint, s.collectHandler)
	if *certFile != "" || *keyFile != "" {
		glog.Fatal(s.server.ListenAndServeTLS(*certFile, *keyFile))
	} else {
		glog.Infoln("Resorting to serving HTTP because there was no certificate and key defined.")
		glog.Fatal(s.server.ListenAndServe())
	}

	glog.Flush()
}
